package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"zerogchat/pkg/domain"
)

const migrateLockID int64 = 41470217

const sqliteScheme = "sqlite:"

// GormStore implements Store using GORM over Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
// A DSN prefixed with "sqlite:" selects the SQLite driver; anything else is handed to Postgres.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	dialector, isSQLite := openDialector(dsn)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &FolderModel{}, &ConversationModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if isSQLite {
		// sqlite serializes writers
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		err = migrate(db)
	} else {
		err = withMigrationLock(db, migrate)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func openDialector(dsn string) (gorm.Dialector, bool) {
	if strings.HasPrefix(dsn, sqliteScheme) {
		return sqlite.Open(strings.TrimPrefix(dsn, sqliteScheme)), true
	}
	return postgres.Open(dsn), false
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "name", "image", "updated_at"}),
	}).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	return err
}

// GetUserByEmail fetches a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID fetches a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateConversation creates a new conversation record.
func (s *GormStore) CreateConversation(ctx context.Context, c domain.Conversation) error {
	model := conversationToModel(c)
	return s.db.WithContext(ctx).Create(&model).Error
}

// CreateConversationWithMessage creates the conversation and its first message in one transaction.
func (s *GormStore) CreateConversationWithMessage(ctx context.Context, c domain.Conversation, msg domain.Message) (domain.Message, error) {
	msg.ConversationID = c.ID
	msg.Seq = 1
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv := conversationToModel(c)
		if conv.UpdatedAt.Before(msg.CreatedAt) {
			conv.UpdatedAt = msg.CreatedAt
		}
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		model, err := messageToModel(msg)
		if err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversationsByUser returns every conversation of a user, pinned first.
func (s *GormStore) ListConversationsByUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	var models []ConversationModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_pinned DESC").
		Order("updated_at DESC").
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Conversation, 0, len(models))
	for _, m := range models {
		out = append(out, conversationFromModel(m))
	}
	return out, nil
}

// UpdateConversation applies the patch and returns the stored row.
func (s *GormStore) UpdateConversation(ctx context.Context, id string, patch domain.ConversationPatch, at time.Time) (domain.Conversation, error) {
	updates := map[string]any{"updated_at": at.UTC()}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.ClearFolder {
		updates["folder_id"] = nil
	} else if patch.FolderID != nil {
		updates["folder_id"] = *patch.FolderID
	}
	if patch.IsPinned != nil {
		updates["is_pinned"] = *patch.IsPinned
	}
	var model ConversationModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ConversationModel{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.First(&model, "id = ?", id).Error
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return conversationFromModel(model), nil
}

// DeleteConversation removes a conversation and its messages.
func (s *GormStore) DeleteConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&MessageModel{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&ConversationModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AppendMessage stores a message at the tail of its conversation.
func (s *GormStore) AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ConversationModel{}).
			Where("id = ?", msg.ConversationID).
			Update("updated_at", msg.CreatedAt.UTC())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		var maxSeq sql.NullInt64
		if err := tx.Model(&MessageModel{}).
			Where("conversation_id = ?", msg.ConversationID).
			Select("MAX(seq)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		msg.Seq = maxSeq.Int64 + 1
		model, err := messageToModel(msg)
		if err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// ListMessages returns the whole transcript oldest first.
func (s *GormStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return messagesFromModels(models)
}

// ListRecentMessages returns the newest limit messages oldest first.
func (s *GormStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	var models []MessageModel
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("seq DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(models)-1; i < j; i, j = i+1, j-1 {
		models[i], models[j] = models[j], models[i]
	}
	return messagesFromModels(models)
}

// LatestMessages returns the newest message of each listed conversation.
func (s *GormStore) LatestMessages(ctx context.Context, conversationIDs []string) (map[string]domain.Message, error) {
	out := make(map[string]domain.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var models []MessageModel
	if err := s.db.WithContext(ctx).
		Table("messages AS m").
		Select("m.*").
		Where("m.conversation_id IN ?", conversationIDs).
		Where(`NOT EXISTS (
			SELECT 1 FROM messages n
			WHERE n.conversation_id = m.conversation_id
			  AND (n.created_at > m.created_at OR (n.created_at = m.created_at AND n.seq > m.seq))
		)`).
		Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		msg, err := messageFromModel(m)
		if err != nil {
			return nil, err
		}
		out[msg.ConversationID] = msg
	}
	return out, nil
}

// CreateFolder creates a folder record.
func (s *GormStore) CreateFolder(ctx context.Context, f domain.Folder) error {
	model := folderToModel(f)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetFolder returns one folder by ID.
func (s *GormStore) GetFolder(ctx context.Context, id string) (domain.Folder, bool, error) {
	var model FolderModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Folder{}, false, nil
		}
		return domain.Folder{}, false, err
	}
	return folderFromModel(model), true, nil
}

// RenameFolder sets a new folder name.
func (s *GormStore) RenameFolder(ctx context.Context, id, name string, at time.Time) (domain.Folder, error) {
	var model FolderModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&FolderModel{}).Where("id = ?", id).Updates(map[string]any{
			"name":       name,
			"updated_at": at.UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.First(&model, "id = ?", id).Error
	})
	if err != nil {
		return domain.Folder{}, err
	}
	return folderFromModel(model), nil
}

// DeleteFolder detaches member conversations and removes the folder.
func (s *GormStore) DeleteFolder(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ConversationModel{}).
			Where("folder_id = ?", id).
			Update("folder_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&FolderModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListFoldersByUser returns a user's folders oldest first with member conversation ids.
func (s *GormStore) ListFoldersByUser(ctx context.Context, userID string) ([]domain.FolderWithConversations, error) {
	db := s.db.WithContext(ctx)
	var folders []FolderModel
	if err := db.Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&folders).Error; err != nil {
		return nil, err
	}
	if len(folders) == 0 {
		return []domain.FolderWithConversations{}, nil
	}
	ids := make([]string, 0, len(folders))
	for _, f := range folders {
		ids = append(ids, f.ID)
	}
	var members []ConversationModel
	if err := db.Select("id", "folder_id").
		Where("user_id = ? AND folder_id IN ?", userID, ids).
		Order("created_at ASC").
		Find(&members).Error; err != nil {
		return nil, err
	}
	byFolder := make(map[string][]string, len(folders))
	for _, m := range members {
		if m.FolderID == nil {
			continue
		}
		byFolder[*m.FolderID] = append(byFolder[*m.FolderID], m.ID)
	}
	out := make([]domain.FolderWithConversations, 0, len(folders))
	for _, f := range folders {
		convIDs := byFolder[f.ID]
		if convIDs == nil {
			convIDs = []string{}
		}
		out = append(out, domain.FolderWithConversations{
			Folder:          folderFromModel(f),
			ConversationIDs: convIDs,
		})
	}
	return out, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Name:         u.Name,
		Image:        u.Image,
		CreatedAt:    u.CreatedAt.UTC(),
		UpdatedAt:    u.UpdatedAt.UTC(),
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Name:         m.Name,
		Image:        m.Image,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func folderToModel(f domain.Folder) FolderModel {
	return FolderModel{
		ID:        f.ID,
		Name:      f.Name,
		UserID:    f.UserID,
		CreatedAt: f.CreatedAt.UTC(),
		UpdatedAt: f.UpdatedAt.UTC(),
	}
}

func folderFromModel(m FolderModel) domain.Folder {
	return domain.Folder{
		ID:        m.ID,
		Name:      m.Name,
		UserID:    m.UserID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:        c.ID,
		Title:     c.Title,
		UserID:    c.UserID,
		FolderID:  c.FolderID,
		IsPinned:  c.IsPinned,
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: c.UpdatedAt.UTC(),
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:        m.ID,
		Title:     m.Title,
		UserID:    m.UserID,
		FolderID:  m.FolderID,
		IsPinned:  m.IsPinned,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) (MessageModel, error) {
	model := MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		Seq:            msg.Seq,
		CreatedAt:      msg.CreatedAt.UTC(),
	}
	if msg.Usage != nil {
		raw, err := json.Marshal(msg.Usage)
		if err != nil {
			return MessageModel{}, fmt.Errorf("encode usage: %w", err)
		}
		model.Usage = datatypes.JSON(raw)
	}
	return model, nil
}

func messageFromModel(m MessageModel) (domain.Message, error) {
	msg := domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           domain.MessageRole(m.Role),
		Content:        m.Content,
		Seq:            m.Seq,
		CreatedAt:      m.CreatedAt,
	}
	if len(m.Usage) > 0 && string(m.Usage) != "null" {
		var usage domain.Usage
		if err := json.Unmarshal(m.Usage, &usage); err != nil {
			return domain.Message{}, fmt.Errorf("decode usage: %w", err)
		}
		msg.Usage = &usage
	}
	return msg, nil
}

func messagesFromModels(models []MessageModel) ([]domain.Message, error) {
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msg, err := messageFromModel(m)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
