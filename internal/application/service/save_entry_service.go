package service

import (
	"DKV/internal/domain"
)

type SaveEntryService struct {
	repository domain.DbEntryRepository
}

func NewSaveEntryService(repository domain.DbEntryRepository) *SaveEntryService {
	return &SaveEntryService{
		repository: repository,
	}
}

type SaveEntryCommand struct {
	Key   []byte
	Value []byte
}

type SaveEntryResult struct {
	Entry domain.DbEntry
	Err   error
}

func (s *SaveEntryService) Execute(command SaveEntryCommand) SaveEntryResult {
	if err := s.repository.Save(command.Key, command.Value); err != nil {
		return SaveEntryResult{Err: err}
	}
	entry := domain.NewDbEntry(command.Key, command.Value)
	return SaveEntryResult{Entry: entry.Copy()}
}
