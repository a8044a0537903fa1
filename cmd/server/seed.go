package main

import (
	"fmt"
	"log/slog"

	"github.com/soaringjerry/FlashTrack/internal/api"
	"github.com/soaringjerry/FlashTrack/internal/config"
)

// SeedIfEmpty writes the configured catalog on first start. Each table is
// seeded only while it is empty, so edits made later in the database win.
func SeedIfEmpty(store api.Store, seed config.Seed, logger *slog.Logger) error {
	segs, err := store.ListTimeSegments()
	if err != nil {
		return fmt.Errorf("list time segments: %w", err)
	}
	if len(segs) == 0 {
		for _, seg := range seed.Segments() {
			if err := store.UpsertTimeSegment(seg); err != nil {
				return fmt.Errorf("seed time segment: %w", err)
			}
		}
		logger.Info("seeded time segments", slog.Int("count", len(seed.TimeSegments)))
	}

	qs, err := store.ListQuestions()
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(qs) == 0 {
		for _, q := range seed.QuestionRows() {
			if err := store.UpsertQuestion(q); err != nil {
				return fmt.Errorf("seed question: %w", err)
			}
		}
		logger.Info("seeded questions", slog.Int("count", len(seed.Questions)))
	}

	finals, err := store.ListEndOfStudyQuestions()
	if err != nil {
		return fmt.Errorf("list end-of-study questions: %w", err)
	}
	if len(finals) == 0 {
		for _, q := range seed.EndOfStudyRows() {
			if err := store.UpsertEndOfStudyQuestion(q); err != nil {
				return fmt.Errorf("seed end-of-study question: %w", err)
			}
		}
		logger.Info("seeded end-of-study questions", slog.Int("count", len(seed.EndOfStudy)))
	}
	return nil
}
