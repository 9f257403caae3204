package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "RiskPilot-Chain/internal/errors"
)

// Conversation 是一轮聊天的落库结构。
type Conversation struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Message        string `json:"message"`
	Intent         string `json:"intent"`
	Reply          string `json:"reply"`
	CorrelationID  string `json:"correlation_id,omitempty"`
	ProofReference string `json:"proof_reference,omitempty"`
	LatencyMS      int64  `json:"latency_ms"`
	CreatedAt      int64  `json:"created_at"`
}

// ConversationRepository 抽象对话记录的持久化接口。
type ConversationRepository interface {
	Save(ctx context.Context, record Conversation) error
	// ListLatest 按时间倒序返回 userID 的最近记录，userID 为空时不过滤。
	ListLatest(ctx context.Context, userID string, limit int) ([]Conversation, error)
	Close() error
}

const (
	defaultListLimit = 20
	fileCacheLimit   = 512
)

// fill 补全 ID 与时间戳。
func (c *Conversation) fill() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().Unix()
	}
}

// FileConversationRepository 以 JSON lines 追加写本地文件，近期记录缓存在内存。
type FileConversationRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []Conversation
}

// NewFileConversationRepository 在 dataDir 下打开或创建 conversations.log。
func NewFileConversationRepository(dataDir string) (*FileConversationRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	repo := &FileConversationRepository{dataFile: filepath.Join(dataDir, "conversations.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录一轮对话。
func (m *FileConversationRepository) Save(_ context.Context, record Conversation) error {
	record.fill()

	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化对话记录失败")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开对话日志失败")
	}
	defer file.Close()

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入对话日志失败")
	}

	m.records = append([]Conversation{record}, m.records...)
	if len(m.records) > fileCacheLimit {
		m.records = m.records[:fileCacheLimit]
	}
	return nil
}

// ListLatest 实现 ConversationRepository。
func (m *FileConversationRepository) ListLatest(_ context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	userID = strings.TrimSpace(userID)

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Conversation, 0, limit)
	for _, record := range m.records {
		if userID != "" && record.UserID != userID {
			continue
		}
		results = append(results, record)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// Close 对文件仓库无需操作。
func (m *FileConversationRepository) Close() error { return nil }

func (m *FileConversationRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取对话日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var restored []Conversation
	for scanner.Scan() {
		var record Conversation
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			// 损坏的行直接跳过。
			continue
		}
		restored = append([]Conversation{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析对话日志失败")
	}

	if len(restored) > fileCacheLimit {
		restored = restored[:fileCacheLimit]
	}
	m.records = restored
	return nil
}

// SQLConversationRepository 使用 MySQL 的 conversations 表。
type SQLConversationRepository struct {
	db *sql.DB
}

// NewSQLConversationRepository 打开连接池并执行迁移。
func NewSQLConversationRepository(ctx context.Context, cfg Config) (*SQLConversationRepository, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化对话存储失败")
	}
	return &SQLConversationRepository{db: db}, nil
}

// NewSQLConversationRepositoryWithDB 复用已经迁移过的连接池。
func NewSQLConversationRepositoryWithDB(db *sql.DB) *SQLConversationRepository {
	return &SQLConversationRepository{db: db}
}

const insertConversationSQL = `INSERT INTO conversations
    (id, user_id, message, intent, reply, correlation_id, proof_reference, latency_ms, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Save 将一轮对话写入 MySQL。
func (s *SQLConversationRepository) Save(ctx context.Context, record Conversation) error {
	record.fill()
	if _, err := s.db.ExecContext(ctx, insertConversationSQL,
		record.ID,
		record.UserID,
		record.Message,
		record.Intent,
		record.Reply,
		record.CorrelationID,
		record.ProofReference,
		record.LatencyMS,
		record.CreatedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入对话记录失败")
	}
	return nil
}

const selectConversationColumns = `SELECT id, user_id, message, intent, reply, correlation_id, proof_reference, latency_ms, created_at
    FROM conversations`

// ListLatest 查询最近的若干条对话记录。
func (s *SQLConversationRepository) ListLatest(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := selectConversationColumns
	args := make([]any, 0, 2)
	if userID = strings.TrimSpace(userID); userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询对话记录失败")
	}
	defer rows.Close()

	var records []Conversation
	for rows.Next() {
		var record Conversation
		if err := rows.Scan(&record.ID, &record.UserID, &record.Message, &record.Intent, &record.Reply,
			&record.CorrelationID, &record.ProofReference, &record.LatencyMS, &record.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析对话记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历对话记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLConversationRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ ConversationRepository = (*FileConversationRepository)(nil)
	_ ConversationRepository = (*SQLConversationRepository)(nil)
)
