package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	StatusProcessing SessionStatus = "processing"
	StatusReady      SessionStatus = "ready"
	StatusError      SessionStatus = "error"
	StatusExpired    SessionStatus = "expired"
)

// NotFound is the sentinel answer for a field no evaluation path could fill.
const NotFound = "NOT_FOUND"

// Session tracks one uploaded document through chunking until it can be queried.
type Session struct {
	ID              string        `db:"id" json:"id"`
	FileName        string        `db:"file_name" json:"file_name"`
	FileSize        int64         `db:"file_size" json:"file_size"`
	ContentType     string        `db:"content_type" json:"content_type"`
	StorageKey      string        `db:"storage_key" json:"-"` // empty when uploads are not archived
	TotalChunks     int           `db:"total_chunks" json:"total_chunks"`
	ProcessedChunks int           `db:"processed_chunks" json:"processed_chunks"`
	Status          SessionStatus `db:"status" json:"status"`
	ErrorMessage    string        `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	ExpiresAt       time.Time     `db:"expires_at" json:"expires_at"`
}

// Expired reports whether the session is past its TTL at now.
func (s *Session) Expired(now time.Time) bool {
	return s.Status == StatusExpired || !now.Before(s.ExpiresAt)
}

// Progress is the percentage of planned chunks already stored.
func (s *Session) Progress() float64 {
	if s.TotalChunks == 0 {
		if s.Status == StatusReady {
			return 100
		}
		return 0
	}
	return float64(s.ProcessedChunks) * 100 / float64(s.TotalChunks)
}

// Chunk is one stored fragment of a session's extracted text.
type Chunk struct {
	ID          string    `db:"id" json:"id"`
	SessionID   string    `db:"session_id" json:"session_id"`
	ChunkIndex  int       `db:"chunk_index" json:"chunk_index"`
	Content     string    `db:"content" json:"content"`
	ContentHash string    `db:"content_hash" json:"content_hash"`
	ByteSize    int       `db:"byte_size" json:"byte_size"`
	PageStart   *int      `db:"page_start" json:"page_start,omitempty"`
	PageEnd     *int      `db:"page_end" json:"page_end,omitempty"`
	Embedding   []float32 `db:"embedding" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`

	// Similarity is filled by searches that rank against a query embedding.
	Similarity float64 `db:"-" json:"-"`
}

var chunkNamespace = uuid.MustParse("6f1c2a9e-4a51-4d0b-9a43-3b2f5f0d7c11")

// ChunkID derives the id of a chunk from its owner and position, so storing the
// same chunk twice always yields the same id.
func ChunkID(sessionID string, chunkIndex int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s:%d", sessionID, chunkIndex))).String()
}

// ContentHash is the hex SHA-256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NewChunk builds a chunk row with its derived id, hash and size.
func NewChunk(sessionID string, chunkIndex int, content string, pageStart, pageEnd int) Chunk {
	ch := Chunk{
		ID:          ChunkID(sessionID, chunkIndex),
		SessionID:   sessionID,
		ChunkIndex:  chunkIndex,
		Content:     content,
		ContentHash: ContentHash(content),
		ByteSize:    len(content),
	}
	if pageStart > 0 {
		ps, pe := pageStart, pageEnd
		ch.PageStart, ch.PageEnd = &ps, &pe
	}
	return ch
}

// ConsolidatedPrompt asks for several named fields in a single evaluation.
type ConsolidatedPrompt struct {
	DocumentName        string   `json:"documentName"`
	Question            string   `json:"question"` // may contain %variable% placeholders
	ExpectedType        string   `json:"expectedType"`
	FieldNames          []string `json:"fieldNames"`
	ExpectedFieldsCount int      `json:"expectedFieldsCount"`
}
