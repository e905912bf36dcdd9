package imap

import (
	"context"
	"errors"
	"io"
	"testing"

	imapv2 "github.com/emersion/go-imap/v2"

	"github.com/dhcgn/spam-report/mailbox"
	"github.com/dhcgn/spam-report/model"
)

func TestOptionsValidate(t *testing.T) {
	base := Options{Host: "imap.example.com", Port: 993, Username: "user", UseTLS: true}

	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{name: "valid", mutate: func(o *Options) {}},
		{name: "empty host", mutate: func(o *Options) { o.Host = " " }, wantErr: true},
		{name: "zero port", mutate: func(o *Options) { o.Port = 0 }, wantErr: true},
		{name: "port too large", mutate: func(o *Options) { o.Port = 70000 }, wantErr: true},
		{name: "missing user", mutate: func(o *Options) { o.Username = "" }, wantErr: true},
		{name: "tls and starttls", mutate: func(o *Options) { o.StartTLS = true }, wantErr: true},
		{name: "starttls only", mutate: func(o *Options) { o.UseTLS = false; o.StartTLS = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mutate(&opts)
			err := opts.validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseUID(t *testing.T) {
	uid, err := parseUID("42")
	if err != nil {
		t.Fatalf("parseUID() error = %v", err)
	}
	if uid != 42 {
		t.Fatalf("parseUID() = %d, want 42", uid)
	}

	for _, bad := range []string{"", "0", "-1", "abc", "99999999999"} {
		if _, err := parseUID(model.MessageID(bad)); !errors.Is(err, ErrInvalidMessageID) {
			t.Errorf("parseUID(%q) error = %v, want ErrInvalidMessageID", bad, err)
		}
	}
}

func TestLoginErrorClassification(t *testing.T) {
	ctx := context.Background()

	rejected := &imapv2.Error{
		Type: imapv2.StatusResponseTypeNo,
		Code: imapv2.ResponseCodeAuthenticationFailed,
		Text: "Invalid credentials",
	}
	if err := loginError(ctx, "user", rejected); !errors.Is(err, mailbox.ErrAuthentication) {
		t.Errorf("loginError(NO) = %v, want ErrAuthentication", err)
	}

	if err := loginError(ctx, "user", io.ErrUnexpectedEOF); !errors.Is(err, mailbox.ErrConnectivity) {
		t.Errorf("loginError(EOF) = %v, want ErrConnectivity", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := loginError(cancelled, "user", io.ErrUnexpectedEOF)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("loginError(cancelled) = %v, want context.Canceled", err)
	}
	if errors.Is(err, mailbox.ErrConnectivity) {
		t.Errorf("loginError(cancelled) should not report connectivity")
	}
}

func TestSelectErrorClassification(t *testing.T) {
	ctx := context.Background()

	missing := &imapv2.Error{
		Type: imapv2.StatusResponseTypeNo,
		Code: imapv2.ResponseCodeNonExistent,
		Text: "Unknown Mailbox",
	}
	if err := selectError(ctx, "[Gmail]/Spam", missing); !errors.Is(err, mailbox.ErrFolderNotFound) {
		t.Errorf("selectError(NO) = %v, want ErrFolderNotFound", err)
	}

	if err := selectError(ctx, "[Gmail]/Spam", io.EOF); !errors.Is(err, mailbox.ErrConnectivity) {
		t.Errorf("selectError(EOF) = %v, want ErrConnectivity", err)
	}
}

func TestUnselectedSessionRejectsCommands(t *testing.T) {
	s := &Session{}
	if _, err := s.Search(context.Background()); !errors.Is(err, ErrNoFolderSelected) {
		t.Errorf("Search() error = %v, want ErrNoFolderSelected", err)
	}
	if _, err := s.Fetch(context.Background(), "1"); !errors.Is(err, ErrNoFolderSelected) {
		t.Errorf("Fetch() error = %v, want ErrNoFolderSelected", err)
	}
}
