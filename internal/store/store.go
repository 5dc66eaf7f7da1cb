package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUserExists is returned when a username or email is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when an identity does not resolve to a user.
	ErrUserNotFound = errors.New("user not found")
)

const defaultAvatar = "https://via.placeholder.com/50"

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:80" json:"username"`
	Email        string    `gorm:"uniqueIndex;size:120" json:"email"`
	PasswordHash string    `gorm:"size:255" json:"-"`
	Avatar       string    `gorm:"size:500" json:"avatar"`
	Status       string    `gorm:"size:200" json:"status"`
	IsOnline     bool      `json:"is_online"`
	LastSeen     time.Time `json:"last_seen"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile is the public snapshot of a user denormalized into live events.
type Profile struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Status   string `json:"status"`
}

// Profile returns the public fields of the user.
func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, Avatar: u.Avatar, Status: u.Status}
}

// Message is one direct message. Created once, mutated only to flip IsRead.
type Message struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SenderID    uint      `gorm:"index" json:"sender_id"`
	RecipientID uint      `gorm:"index" json:"recipient_id"`
	Content     string    `gorm:"type:text" json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	IsRead      bool      `json:"is_read"`
}

// Store owns durable users and messages. It is the sole writer; the delivery
// core only reads and requests the single is_read flip.
type Store struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// Open opens (or creates) the SQLite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite db %s: %w", path, err)
	}
	if err := db.AutoMigrate(&User{}, &Message{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, nowFn: time.Now}, nil
}

// CreateUser inserts a new account with the given pre-hashed password. The
// unique indexes on username and email are the authority on duplicates; two
// concurrent registrations race to the insert and the loser gets
// ErrUserExists, never a raw constraint error.
func (s *Store) CreateUser(username, email, passwordHash, avatar, status string) (*User, error) {
	if avatar == "" {
		avatar = defaultAvatar
	}
	if status == "" {
		status = "Hey there! I am using ChatApp"
	}
	u := &User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Avatar:       avatar,
		Status:       status,
		LastSeen:     s.nowFn().UTC(),
	}
	if err := s.db.Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// UserByEmail resolves an account by email.
func (s *Store) UserByEmail(email string) (*User, error) {
	var u User
	if err := s.db.Where("email = ?", email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user by email: %w", err)
	}
	return &u, nil
}

// UserByID resolves an account by identity.
func (s *Store) UserByID(id uint) (*User, error) {
	var u User
	if err := s.db.First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user by id: %w", err)
	}
	return &u, nil
}

// ListUsersExcept returns every user other than the given one, for the
// contact list view.
func (s *Store) ListUsersExcept(id uint) ([]User, error) {
	var users []User
	if err := s.db.Where("id <> ?", id).Order("username ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// CountUsers reports the number of registered accounts.
func (s *Store) CountUsers() (int64, error) {
	var cnt int64
	if err := s.db.Model(&User{}).Count(&cnt).Error; err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return cnt, nil
}

// CreateMessage durably records a message. A dangling recipient is rejected
// here, before anything is stored.
func (s *Store) CreateMessage(senderID, recipientID uint, content string) (*Message, error) {
	var cnt int64
	if err := s.db.Model(&User{}).Where("id = ?", recipientID).Count(&cnt).Error; err != nil {
		return nil, fmt.Errorf("check recipient: %w", err)
	}
	if cnt == 0 {
		return nil, ErrUserNotFound
	}

	m := &Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Timestamp:   s.nowFn().UTC(),
	}
	if err := s.db.Create(m).Error; err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return m, nil
}

// MessageByID reads back a single message.
func (s *Store) MessageByID(id uint) (*Message, error) {
	var m Message
	if err := s.db.First(&m, id).Error; err != nil {
		return nil, fmt.Errorf("query message %d: %w", id, err)
	}
	return &m, nil
}

// ListBetween returns the full conversation between two users, ascending by
// timestamp.
func (s *Store) ListBetween(userA, userB uint) ([]Message, error) {
	var msgs []Message
	err := s.db.
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)",
			userA, userB, userB, userA).
		Order("timestamp ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	return msgs, nil
}

// MarkRead flips is_read on unread messages sent by senderID to recipientID.
// Messages the reader sent themselves are untouched.
func (s *Store) MarkRead(senderID, recipientID uint) (int64, error) {
	res := s.db.Model(&Message{}).
		Where("sender_id = ? AND recipient_id = ? AND is_read = ?", senderID, recipientID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SetUserOnline mirrors a presence transition into the durable user row so
// the contact list survives restarts. The in-memory presence table stays the
// source of truth for reachability.
func (s *Store) SetUserOnline(id uint, online bool) error {
	res := s.db.Model(&User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_online": online,
		"last_seen": s.nowFn().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("set user online: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
