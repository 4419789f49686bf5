package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lymanm67-lab/sacredgreeks-sub006/store"
)

// Wire forms of the data-API record types. Rich text fields arrive as HTML
// and are converted before storage.

type wireDevotional struct {
	ID            string `json:"id"`
	Date          string `json:"date"`
	Title         string `json:"title"`
	ScriptureRef  string `json:"scriptureRef"`
	ScriptureText string `json:"scriptureText"`
	Reflection    string `json:"reflection"`
	ProofFocus    string `json:"proofFocus"`
	Application   string `json:"application"`
	Prayer        string `json:"prayer"`
}

type wirePrayer struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Type       string     `json:"type"`
	Answered   bool       `json:"answered"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type wireVerse struct {
	Reference   string `json:"reference"`
	Text        string `json:"text"`
	Translation string `json:"translation"`
}

type wireMaterial struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (p *Pipeline) ingestDevotionals(ctx context.Context, body []byte) (int, error) {
	items, err := decodeMany[wireDevotional](body)
	if err != nil {
		return 0, fmt.Errorf("ingest: decode devotionals: %w", err)
	}

	stored := 0
	for _, w := range items {
		if w.ID == "" {
			p.logger.Warn("ingest: devotional without id skipped", "date", w.Date)
			continue
		}
		d := store.Devotional{
			ID:            w.ID,
			Date:          w.Date,
			Title:         p.plainText(w.Title),
			ScriptureRef:  p.plainText(w.ScriptureRef),
			ScriptureText: p.plainText(w.ScriptureText),
			Reflection:    p.richText(w.Reflection),
			ProofFocus:    p.richText(w.ProofFocus),
			Application:   p.richText(w.Application),
			Prayer:        p.richText(w.Prayer),
		}
		if err := p.store.PutDevotional(ctx, d); err != nil {
			p.logger.Warn("ingest: store devotional failed", "id", w.ID, "error", err)
			continue
		}
		stored++
	}
	return stored, nil
}

func (p *Pipeline) ingestPrayers(ctx context.Context, body []byte) (int, error) {
	items, err := decodeMany[wirePrayer](body)
	if err != nil {
		return 0, fmt.Errorf("ingest: decode prayers: %w", err)
	}

	stored := 0
	for _, w := range items {
		if w.ID == "" {
			p.logger.Warn("ingest: prayer without id skipped", "title", w.Title)
			continue
		}
		pr := store.Prayer{
			ID:         w.ID,
			Title:      p.plainText(w.Title),
			Content:    p.richText(w.Content),
			Type:       w.Type,
			Answered:   w.Answered,
			AnsweredAt: w.AnsweredAt,
			CreatedAt:  w.CreatedAt,
		}
		if err := p.store.PutPrayer(ctx, pr); err != nil {
			p.logger.Warn("ingest: store prayer failed", "id", w.ID, "error", err)
			continue
		}
		stored++
	}
	return stored, nil
}

func (p *Pipeline) ingestVerses(ctx context.Context, body []byte) (int, error) {
	items, err := decodeMany[wireVerse](body)
	if err != nil {
		return 0, fmt.Errorf("ingest: decode verses: %w", err)
	}

	stored := 0
	for _, w := range items {
		if w.Reference == "" {
			p.logger.Warn("ingest: verse without reference skipped")
			continue
		}
		v := store.BibleVerse{
			Reference:   p.plainText(w.Reference),
			Text:        p.plainText(w.Text),
			Translation: p.plainText(w.Translation),
		}
		if err := p.store.PutVerse(ctx, v); err != nil {
			p.logger.Warn("ingest: store verse failed", "reference", w.Reference, "error", err)
			continue
		}
		stored++
	}
	return stored, nil
}

func (p *Pipeline) ingestMaterials(ctx context.Context, body []byte) (int, error) {
	items, err := decodeMany[wireMaterial](body)
	if err != nil {
		return 0, fmt.Errorf("ingest: decode study materials: %w", err)
	}

	stored := 0
	for _, w := range items {
		if w.ID == "" {
			p.logger.Warn("ingest: study material without id skipped", "type", w.Type)
			continue
		}
		m := store.StudyMaterial{
			ID:      w.ID,
			Type:    w.Type,
			Payload: string(w.Payload),
		}
		if err := p.store.PutMaterial(ctx, m); err != nil {
			p.logger.Warn("ingest: store material failed", "id", w.ID, "error", err)
			continue
		}
		stored++
	}
	return stored, nil
}
