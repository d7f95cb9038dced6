package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"nudgebot/internal/models"
)

const (
	AttachmentChunkSizeDefault = 1000
	AttachmentChunkSizeMin     = 500
	AttachmentChunkSizeMax     = 2000
	AttachmentRateLimit        = 3
	AttachmentRateWindow       = time.Minute
)

// AttachmentStore resolves attachment metadata.
type AttachmentStore interface {
	Attachment(ctx context.Context, id int64) (*models.Attachment, error)
}

// AttachmentReader reads a user's uploaded document in chunks. Files must
// belong to the caller and live under the configured base directory.
type AttachmentReader struct {
	store   AttachmentStore
	loader  *file.FileLoader
	baseDir string

	mu       sync.Mutex
	limiters map[int64]*userLimiter
	now      func() time.Time
}

type userLimiter struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

func NewAttachmentReader(ctx context.Context, store AttachmentStore, baseDir string) (*AttachmentReader, error) {
	parserExt, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init ext parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve attachment dir: %w", err)
	}
	return &AttachmentReader{
		store:    store,
		loader:   loader,
		baseDir:  absBase,
		limiters: make(map[int64]*userLimiter),
		now:      time.Now,
	}, nil
}

func (*AttachmentReader) Name() string { return "attachment_reader" }
func (*AttachmentReader) Description() string {
	return "Read user-uploaded documents in small chunks. Provide the attachment_id (and optional chunk_index / chunk_size) to fetch a specific segment; limit 3 calls per minute per user."
}
func (*AttachmentReader) BasePriority() int { return 15 }

func (*AttachmentReader) Parameters() map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"attachment_id": {
			Desc:     "ID of the attachment to read, provided in the conversation.",
			Type:     schema.Integer,
			Required: true,
		},
		"chunk_index": {
			Desc: "Zero-based chunk index to read, default 0.",
			Type: schema.Integer,
		},
		"chunk_size": {
			Desc: "Number of characters per chunk (500 to 2000, default 1000).",
			Type: schema.Integer,
		},
	}
}

func (*AttachmentReader) Relevance(tc ToolContext) int {
	return ClampScore(tc.Signal(SignalDocumentQuestion))
}

func (r *AttachmentReader) Execute(ctx context.Context, tc ToolContext) ToolResult {
	id, ok := tc.IntArg("attachment_id")
	if !ok || id <= 0 {
		return failed(r.Name(), "attachment_id is required")
	}
	att, err := r.store.Attachment(ctx, id)
	if err != nil {
		return failed(r.Name(), fmt.Sprintf("load attachment: %v", err))
	}
	if att == nil || att.UserID != tc.UserID || att.OrganizationID != tc.OrganizationID {
		return failed(r.Name(), "attachment not found for this user")
	}
	path, err := r.resolve(att.StoredPath)
	if err != nil {
		return failed(r.Name(), err.Error())
	}
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return failed(r.Name(), "attachment file is missing")
	}
	if !r.allow(tc.UserID) {
		return failed(r.Name(), "attachment reader rate limit exceeded, please retry in a minute")
	}

	text, err := r.load(ctx, path)
	if err != nil {
		return failed(r.Name(), err.Error())
	}
	if text == "" {
		return nothing(r.Name(), "file has no readable text content")
	}
	chunkIndex, _ := tc.IntArg("chunk_index")
	chunkSize, _ := tc.IntArg("chunk_size")
	segment, index, total := chunkText(text, int(chunkIndex), int(chunkSize))
	return found(r.Name(), fmt.Sprintf("File: %s\nChunk %d/%d\n\n%s", att.FileName, index+1, total, segment))
}

func (r *AttachmentReader) resolve(stored string) (string, error) {
	path := stored
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.baseDir, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(r.baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("attachment outside storage directory")
	}
	return path, nil
}

// allow takes a read token for userID. Only reads that reach the file
// loader spend one.
func (r *AttachmentReader) allow(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	ul, ok := r.limiters[userID]
	if !ok {
		ul = &userLimiter{lim: rate.NewLimiter(rate.Every(AttachmentRateWindow/AttachmentRateLimit), AttachmentRateLimit)}
		r.limiters[userID] = ul
	}
	ul.lastUsed = now
	return ul.lim.AllowN(now, 1)
}

// PruneIdle forgets limiters unused since before. Cutoffs older than one rate
// window are safe: an idle limiter has refilled by then.
func (r *AttachmentReader) PruneIdle(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for id, ul := range r.limiters {
		if ul.lastUsed.Before(before) {
			delete(r.limiters, id)
			pruned++
		}
	}
	return pruned
}

func (r *AttachmentReader) load(ctx context.Context, path string) (string, error) {
	docs, err := r.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", fmt.Errorf("load file: %w", err)
	}
	var builder strings.Builder
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		builder.WriteString(content)
		builder.WriteString("\n\n")
	}
	return strings.TrimSpace(builder.String()), nil
}

// chunkText returns the requested rune chunk, its clamped index and the
// total chunk count.
func chunkText(text string, index, size int) (string, int, int) {
	if size <= 0 || size > AttachmentChunkSizeMax {
		size = AttachmentChunkSizeDefault
	}
	if size < AttachmentChunkSizeMin {
		size = AttachmentChunkSizeMin
	}
	if index < 0 {
		index = 0
	}
	runes := []rune(text)
	total := (len(runes) + size - 1) / size
	if total == 0 {
		return "", 0, 0
	}
	if index >= total {
		index = total - 1
	}
	start := index * size
	end := start + size
	if end > len(runes) {
		end = len(runes)
	}
	return string(runes[start:end]), index, total
}
