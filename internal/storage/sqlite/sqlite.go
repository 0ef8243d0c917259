package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fenggwsx/StayChat/internal/config"
	"github.com/fenggwsx/StayChat/internal/storage"
)

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

type userModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Email     string `gorm:"uniqueIndex"`
	Image     string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userModel) TableName() string { return "users" }

type conversationModel struct {
	ID            string `gorm:"primaryKey"`
	ReservationID string
	LastMessageAt time.Time `gorm:"index"`
	CreatedAt     time.Time
}

func (conversationModel) TableName() string { return "conversations" }

type participantModel struct {
	ConversationID string `gorm:"primaryKey"`
	UserID         string `gorm:"primaryKey;index"`
	Position       int
}

func (participantModel) TableName() string { return "conversation_participants" }

type messageModel struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"index"`
	SenderID       string `gorm:"index"`
	Content        string
	CreatedAt      time.Time `gorm:"index"`
}

func (messageModel) TableName() string { return "messages" }

type notificationModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	Type      string
	Title     string
	Message   string
	Data      string
	Read      bool
	CreatedAt time.Time `gorm:"index"`
}

func (notificationModel) TableName() string { return "notifications" }

// NewStore opens a SQLite database at the provided path. Slow queries and
// driver errors are reported through log.
func NewStore(cfg config.DatabaseConfig, log zerolog.Logger) (*Store, error) {
	dsn := cfg.Path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	gormLog := logger.New(&log, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormLog,
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&userModel{},
		&conversationModel{},
		&participantModel{},
		&messageModel{},
		&notificationModel{},
	)
}

// CreateUser stores a new user record. A duplicate email yields storage.ErrConflict.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&userModel{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return storage.ErrConflict
	}
	model := userModel{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Image:     user.Image,
		Password:  user.Password,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetUserByID retrieves a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	return toUser(model), nil
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	return toUser(model), nil
}

// CreateConversation stores the conversation and its participant list.
func (s *Store) CreateConversation(ctx context.Context, conv *storage.Conversation) error {
	if conv == nil {
		return errors.New("nil conversation")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := conversationModel{
			ID:            conv.ID,
			ReservationID: conv.ReservationID,
			LastMessageAt: conv.LastMessageAt,
			CreatedAt:     conv.CreatedAt,
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		if len(conv.ParticipantIDs) == 0 {
			return nil
		}
		participants := make([]participantModel, 0, len(conv.ParticipantIDs))
		for i, userID := range conv.ParticipantIDs {
			participants = append(participants, participantModel{ConversationID: conv.ID, UserID: userID, Position: i})
		}
		return tx.Create(&participants).Error
	})
}

// GetConversation retrieves a conversation with its participants.
func (s *Store) GetConversation(ctx context.Context, id string) (*storage.Conversation, error) {
	var model conversationModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	convs, err := s.withParticipants(ctx, []conversationModel{model})
	if err != nil {
		return nil, err
	}
	return &convs[0], nil
}

// FindConversationsWithParticipants returns conversations containing every
// given user id. Callers decide whether extra participants disqualify a match.
func (s *Store) FindConversationsWithParticipants(ctx context.Context, userIDs ...string) ([]storage.Conversation, error) {
	wanted := distinct(userIDs)
	if len(wanted) == 0 {
		return nil, nil
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&participantModel{}).
		Where("user_id IN ?", wanted).
		Group("conversation_id").
		Having("COUNT(DISTINCT user_id) = ?", len(wanted)).
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var models []conversationModel
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return s.withParticipants(ctx, models)
}

// ListConversationsForUser returns the user's conversations, most recently active first.
func (s *Store) ListConversationsForUser(ctx context.Context, userID string) ([]storage.Conversation, error) {
	member := s.db.Model(&participantModel{}).Select("conversation_id").Where("user_id = ?", userID)
	var models []conversationModel
	err := s.db.WithContext(ctx).
		Where("id IN (?)", member).
		Order("last_message_at DESC, id DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return s.withParticipants(ctx, models)
}

// TouchConversation sets lastMessageAt.
func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&conversationModel{}).Where("id = ?", id).Update("last_message_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SaveMessage appends a chat message.
func (s *Store) SaveMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	model := messageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListMessages returns the conversation history, oldest first, with senders attached.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]storage.Message, error) {
	var models []messageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return s.withSenders(ctx, models)
}

// LastMessage returns the most recent message of a conversation.
func (s *Store) LastMessage(ctx context.Context, conversationID string) (*storage.Message, error) {
	var model messageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		First(&model).Error
	if err != nil {
		return nil, translate(err)
	}
	msgs, err := s.withSenders(ctx, []messageModel{model})
	if err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// SaveNotification appends an inbox entry.
func (s *Store) SaveNotification(ctx context.Context, n *storage.Notification) error {
	if n == nil {
		return errors.New("nil notification")
	}
	data, err := encodeData(n.Data)
	if err != nil {
		return err
	}
	model := notificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      data,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetNotification retrieves one inbox entry.
func (s *Store) GetNotification(ctx context.Context, id string) (*storage.Notification, error) {
	var model notificationModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	return toNotification(model)
}

// ListNotifications returns the newest notifications for a user.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]storage.Notification, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []notificationModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]storage.Notification, 0, len(models))
	for _, model := range models {
		n, err := toNotification(model)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, nil
}

// SetNotificationRead flips the read flag of one notification.
func (s *Store) SetNotificationRead(ctx context.Context, id string, read bool) error {
	res := s.db.WithContext(ctx).Model(&notificationModel{}).Where("id = ?", id).Update("read", read)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification of the user and
// returns how many changed.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&notificationModel{}).
		Where(map[string]interface{}{"user_id": userID, "read": false}).
		Update("read", true)
	return res.RowsAffected, res.Error
}

// DeleteNotification removes one notification.
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&notificationModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) withParticipants(ctx context.Context, models []conversationModel) ([]storage.Conversation, error) {
	if len(models) == 0 {
		return []storage.Conversation{}, nil
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	var rows []participantModel
	err := s.db.WithContext(ctx).
		Where("conversation_id IN ?", ids).
		Order("conversation_id ASC, position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	byConv := make(map[string][]string, len(models))
	for _, row := range rows {
		byConv[row.ConversationID] = append(byConv[row.ConversationID], row.UserID)
	}
	out := make([]storage.Conversation, 0, len(models))
	for _, m := range models {
		out = append(out, storage.Conversation{
			ID:             m.ID,
			ParticipantIDs: byConv[m.ID],
			ReservationID:  m.ReservationID,
			LastMessageAt:  m.LastMessageAt,
			CreatedAt:      m.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) withSenders(ctx context.Context, models []messageModel) ([]storage.Message, error) {
	out := make([]storage.Message, 0, len(models))
	if len(models) == 0 {
		return out, nil
	}
	senderIDs := make([]string, 0, len(models))
	for _, m := range models {
		senderIDs = append(senderIDs, m.SenderID)
	}
	var users []userModel
	if err := s.db.WithContext(ctx).Where("id IN ?", distinct(senderIDs)).Find(&users).Error; err != nil {
		return nil, err
	}
	senders := make(map[string]*storage.User, len(users))
	for _, u := range users {
		senders[u.ID] = toUser(u)
	}
	for _, m := range models {
		out = append(out, storage.Message{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
			Sender:         senders[m.SenderID],
		})
	}
	return out, nil
}

func toUser(model userModel) *storage.User {
	return &storage.User{
		ID:        model.ID,
		Name:      model.Name,
		Email:     model.Email,
		Image:     model.Image,
		Password:  model.Password,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

func toNotification(model notificationModel) (*storage.Notification, error) {
	data, err := decodeData(model.Data)
	if err != nil {
		return nil, fmt.Errorf("notification %s: %w", model.ID, err)
	}
	return &storage.Notification{
		ID:        model.ID,
		UserID:    model.UserID,
		Type:      model.Type,
		Title:     model.Title,
		Message:   model.Message,
		Data:      data,
		Read:      model.Read,
		CreatedAt: model.CreatedAt,
	}, nil
}

func encodeData(data map[string]interface{}) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode notification data: %w", err)
	}
	return string(raw), nil
}

func decodeData(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode notification data: %w", err)
	}
	return data, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
