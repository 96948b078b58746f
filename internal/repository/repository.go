package repository

import "debate_live/internal/storage"

type Repositories struct {
	User  UserRepository
	Room  RoomRepository
	Entry EntryRepository
}

func NewRepositories(db *storage.PostgresDB) *Repositories {
	return &Repositories{
		User:  NewUserRepository(db),
		Room:  NewRoomRepository(db),
		Entry: NewEntryRepository(db),
	}
}
