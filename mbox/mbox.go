// Package mbox serves mail folders exported as mbox files (for example a
// Google Takeout archive) through the mailbox.Store contract, so a report can
// be produced offline.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/spam-report/mailbox"
	"github.com/dhcgn/spam-report/model"
)

var ErrInvalidMessageID = errors.New("invalid mbox message id")

type Options struct {
	// Dir holds one <folder>.mbox file per folder.
	Dir string
}

// Store reads a whole folder into memory on Select. It is read-only
// afterwards.
type Store struct {
	dir      string
	logger   *slog.Logger
	folder   string
	messages [][]byte
}

var _ mailbox.Store = (*Store)(nil)

func Open(opts Options, logger *slog.Logger) (*Store, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, fmt.Errorf("mbox directory is empty")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: open mbox directory: %w", mailbox.ErrConnectivity, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", mailbox.ErrConnectivity, dir)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func NewDialer(opts Options, logger *slog.Logger) mailbox.Dialer {
	return func(ctx context.Context) (mailbox.Store, error) {
		return Open(opts, logger)
	}
}

func (s *Store) Select(ctx context.Context, folder string) error {
	file, err := s.openFolder(folder)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	var messages [][]byte
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("mbox %s message %d: %w", folder, idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("mbox %s message %d read: %w", folder, idx, err)
		}
		messages = append(messages, raw)
	}

	s.folder = folder
	s.messages = messages

	if s.logger != nil {
		s.logger.Debug("mbox folder selected", "folder", folder, "messages", len(messages))
	}
	return nil
}

func (s *Store) Search(ctx context.Context) ([]model.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := make([]model.MessageID, 0, len(s.messages))
	for i := range s.messages {
		ids = append(ids, model.MessageID(strconv.Itoa(i+1)))
	}
	return ids, nil
}

func (s *Store) Fetch(ctx context.Context, id model.MessageID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(string(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMessageID, id)
	}
	if n < 1 || n > len(s.messages) {
		return nil, fmt.Errorf("message %s: %w", id, mailbox.ErrMessageMissing)
	}
	return s.messages[n-1], nil
}

func (s *Store) Close() error {
	s.messages = nil
	return nil
}

// openFolder maps an IMAP-style folder name onto a file in the directory:
// "Spam", "Spam.mbox" and "[Gmail]/Spam" all resolve to Spam.mbox.
func (s *Store) openFolder(folder string) (*os.File, error) {
	for _, name := range candidateFiles(folder) {
		if !filepath.IsLocal(name) {
			continue
		}
		file, err := os.Open(filepath.Join(s.dir, name))
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open mbox %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", mailbox.ErrFolderNotFound, folder, s.dir)
}

func candidateFiles(folder string) []string {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return nil
	}
	if strings.HasSuffix(folder, ".mbox") {
		return []string{folder}
	}
	candidates := []string{folder + ".mbox"}
	if base := path.Base(folder); base != folder {
		candidates = append(candidates, base+".mbox")
	}
	return candidates
}
