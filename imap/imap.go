package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/spam-report/mailbox"
	"github.com/dhcgn/spam-report/model"
)

var (
	ErrInvalidMessageID = errors.New("invalid imap message id")
	ErrNoFolderSelected = errors.New("no folder selected")
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	StartTLS           bool
	InsecureSkipVerify bool
	// DebugWriter receives the raw protocol exchange when set.
	DebugWriter io.Writer
}

func (o Options) validate() error {
	if strings.TrimSpace(o.Host) == "" {
		return fmt.Errorf("imap host is empty")
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("imap port must be between 1 and 65535")
	}
	if o.Username == "" {
		return fmt.Errorf("imap username is empty")
	}
	if o.UseTLS && o.StartTLS {
		return fmt.Errorf("implicit tls and starttls are mutually exclusive")
	}
	return nil
}

// Session is an authenticated IMAP connection implementing mailbox.Store.
type Session struct {
	opts      Options
	client    *imapclient.Client
	logger    *slog.Logger
	stopClose func() bool
	folder    string
}

var _ mailbox.Store = (*Session)(nil)

// NewDialer returns a mailbox.Dialer that opens a fresh Session per call.
func NewDialer(opts Options, logger *slog.Logger) mailbox.Dialer {
	return func(ctx context.Context) (mailbox.Store, error) {
		return Dial(ctx, opts, logger)
	}
}

// Dial connects and logs in. Login rejections are reported as
// mailbox.ErrAuthentication, transport problems as mailbox.ErrConnectivity.
func Dial(ctx context.Context, opts Options, logger *slog.Logger) (*Session, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	address := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	options := &imapclient.Options{DebugWriter: opts.DebugWriter}
	if opts.UseTLS || opts.StartTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         opts.Host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)
	switch {
	case opts.UseTLS:
		client, err = imapclient.DialTLS(address, options)
	case opts.StartTLS:
		client, err = imapclient.DialStartTLS(address, options)
	default:
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial imap %s: %w", mailbox.ErrConnectivity, address, err)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
		stopClose()
		_ = client.Close()
		return nil, loginError(ctx, opts.Username, err)
	}

	if logger != nil {
		logger.Debug("imap connection established", "address", address, "user", opts.Username, "tls", opts.UseTLS, "starttls", opts.StartTLS)
	}

	return &Session{
		opts:      opts,
		client:    client,
		logger:    logger,
		stopClose: stopClose,
	}, nil
}

func (s *Session) Select(ctx context.Context, folder string) error {
	stop := s.closeOnDone(ctx)
	defer stop()

	data, err := s.client.Select(folder, &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return selectError(ctx, folder, err)
	}
	s.folder = folder

	if s.logger != nil {
		s.logger.Debug("imap folder selected", "folder", folder, "messages", data.NumMessages)
	}
	return nil
}

func (s *Session) Search(ctx context.Context) ([]model.MessageID, error) {
	if s.folder == "" {
		return nil, ErrNoFolderSelected
	}
	stop := s.closeOnDone(ctx)
	defer stop()

	data, err := s.client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, transportError(ctx, "uid search", err)
	}

	uids := data.AllUIDs()
	ids := make([]model.MessageID, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, model.MessageID(strconv.FormatUint(uint64(uid), 10)))
	}
	return ids, nil
}

// Fetch downloads the full message with BODY.PEEK[] so the \Seen flag is
// left untouched.
func (s *Session) Fetch(ctx context.Context, id model.MessageID) ([]byte, error) {
	if s.folder == "" {
		return nil, ErrNoFolderSelected
	}
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}

	stop := s.closeOnDone(ctx)
	defer stop()

	section := &imapv2.FetchItemBodySection{Peek: true}
	fetchOpts := &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	}

	msgs, err := s.client.Fetch(imapv2.UIDSetNum(uid), fetchOpts).Collect()
	if err != nil {
		return nil, transportError(ctx, "fetch uid "+string(id), err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("uid %s: %w", id, mailbox.ErrMessageMissing)
	}

	raw := msgs[0].FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("uid %s: empty body section: %w", id, mailbox.ErrMessageMissing)
	}
	return raw, nil
}

func (s *Session) Close() error {
	if s.stopClose != nil {
		s.stopClose()
	}
	if err := s.client.Logout().Wait(); err != nil && s.logger != nil {
		s.logger.Debug("imap logout failed", "err", err)
	}
	if err := s.client.Close(); err != nil {
		if s.logger != nil {
			s.logger.Debug("imap connection closed", "err", err)
		}
	}
	return nil
}

// closeOnDone tears the connection down when ctx ends mid-command, which is
// the only way to unblock a pending Wait.
func (s *Session) closeOnDone(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = s.client.Close()
	})
}

func parseUID(id model.MessageID) (imapv2.UID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(string(id)), 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMessageID, id)
	}
	return imapv2.UID(n), nil
}

func loginError(ctx context.Context, user string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("imap login: %w", ctxErr)
	}
	var respErr *imapv2.Error
	if errors.As(err, &respErr) {
		return fmt.Errorf("%w: imap login for %s: %w", mailbox.ErrAuthentication, user, err)
	}
	return fmt.Errorf("%w: imap login: %w", mailbox.ErrConnectivity, err)
}

func selectError(ctx context.Context, folder string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("select %s: %w", folder, ctxErr)
	}
	var respErr *imapv2.Error
	if errors.As(err, &respErr) && respErr.Type == imapv2.StatusResponseTypeNo {
		return fmt.Errorf("%w: %s: %w", mailbox.ErrFolderNotFound, folder, err)
	}
	return fmt.Errorf("%w: select %s: %w", mailbox.ErrConnectivity, folder, err)
}

func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	var respErr *imapv2.Error
	if errors.As(err, &respErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", mailbox.ErrConnectivity, op, err)
}
