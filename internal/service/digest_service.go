package service

import (
	"context"
	"fmt"
	"time"

	"ai-research-be/internal/dto"
	"ai-research-be/internal/pkg/logger"
	"ai-research-be/internal/repository/contract"
	"ai-research-be/internal/repository/unitofwork"
	"ai-research-be/pkg/research"
)

const digestModule = "DIGEST"

type IDigestService interface {
	// Assemble renders every record of topic created within rng. It only
	// reads; a record that cannot be loaded becomes a gap note.
	Assemble(ctx context.Context, topic string, rng dto.TimeRange) (string, error)
	// AssembleRun renders the digest for the records of a finished run.
	AssembleRun(ctx context.Context, in *dto.DigestInput) (string, error)
}

type digestService struct {
	uowFactory   unitofwork.RepositoryFactory
	logger       logger.ILogger
	storeTimeout time.Duration
}

func NewDigestService(
	uowFactory unitofwork.RepositoryFactory,
	storeTimeout time.Duration,
	logger logger.ILogger,
) IDigestService {
	if storeTimeout <= 0 {
		storeTimeout = 10 * time.Second
	}
	return &digestService{
		uowFactory:   uowFactory,
		logger:       logger,
		storeTimeout: storeTimeout,
	}
}

func (s *digestService) AssembleRun(ctx context.Context, in *dto.DigestInput) (string, error) {
	if in == nil {
		return "", fmt.Errorf("digest input is nil")
	}
	return s.Assemble(ctx, in.Topic, in.Range())
}

func (s *digestService) Assemble(ctx context.Context, topic string, rng dto.TimeRange) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	uow := s.uowFactory.NewUnitOfWork(ctx)
	repo := uow.SummaryRepository()

	refs, err := repo.ListRefs(ctx, topic, rng.From, rng.To)
	if err != nil {
		return "", contract.StoreError("list summaries", err)
	}

	entries := make([]research.DigestEntry, 0, len(refs))
	missing := 0
	for _, ref := range refs {
		entry := research.DigestEntry{Id: ref.Id.String(), CreatedAt: ref.CreatedAt}

		record, err := repo.FindById(ctx, ref.Id)
		switch {
		case err != nil:
			entry.Err = err
		case record == nil:
			entry.Err = fmt.Errorf("record not found")
		default:
			entry.CreatedAt = record.CreatedAt
			entry.Query = record.Query
			entry.Summary = record.Summary
			entry.FollowUps = record.FollowUps
		}

		if entry.Err != nil {
			missing++
			s.logger.Warn(digestModule, "Digest entry unavailable", map[string]interface{}{
				"topic":     topic,
				"record_id": ref.Id.String(),
				"error":     entry.Err.Error(),
			})
		}
		entries = append(entries, entry)
	}

	s.logger.Info(digestModule, "Digest assembled", map[string]interface{}{
		"topic":   topic,
		"entries": len(entries),
		"missing": missing,
	})
	return research.RenderDigest(topic, rng.From, rng.To, entries), nil
}
