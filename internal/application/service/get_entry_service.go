package service

import (
	"DKV/internal/domain"
)

type GetEntryService struct {
	repository domain.DbEntryRepository
}

func NewGetEntryService(repository domain.DbEntryRepository) *GetEntryService {
	return &GetEntryService{
		repository: repository,
	}
}

type GetEntryQuery struct {
	Key []byte
}

type GetEntryResult struct {
	Entry domain.DbEntry
	Found bool
	Err   error
}

func (s *GetEntryService) Execute(query GetEntryQuery) GetEntryResult {
	value, found, err := s.repository.Get(query.Key)
	if err != nil {
		return GetEntryResult{Err: err}
	}
	if !found {
		return GetEntryResult{Found: false}
	}
	return GetEntryResult{
		Entry: domain.NewDbEntry(query.Key, value),
		Found: true,
	}
}
