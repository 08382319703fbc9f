package service

import (
	"DKV/internal/domain"
)

type DeleteEntryService struct {
	repository domain.DbEntryRepository
}

func NewDeleteEntryService(repository domain.DbEntryRepository) *DeleteEntryService {
	return &DeleteEntryService{
		repository: repository,
	}
}

type DeleteEntryCommand struct {
	Key []byte
}

// DeleteEntryResult reports only failures; deleting an absent key succeeds.
type DeleteEntryResult struct {
	Err error
}

func (s *DeleteEntryService) Execute(command DeleteEntryCommand) DeleteEntryResult {
	return DeleteEntryResult{Err: s.repository.Delete(command.Key)}
}
