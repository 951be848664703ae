package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderInvitationTemplate(t *testing.T) {
	html, err := renderInvitation(InvitationData{
		AppName:     "Taskhub",
		InviterName: "Avery",
		TargetName:  "Platform",
		Role:        "MEMBER",
		AcceptURL:   "https://example.com/invitations/accept?token=abc123",
		ExpiresAt:   time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("renderInvitation failed: %v", err)
	}
	for _, want := range []string{"Taskhub", "Avery", "Platform", "MEMBER", "token=abc123", "2026-03-09"} {
		if !strings.Contains(html, want) {
			t.Errorf("template should contain %q", want)
		}
	}
}

func TestSendInvitationEmailNotConfigured(t *testing.T) {
	svc := NewService(Config{})
	err := svc.SendInvitationEmail("new@example.com", InvitationData{TargetName: "Platform"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("SendInvitationEmail() error = %v, want ErrNotConfigured", err)
	}
}

func TestSendInvitationEmail(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com", FromName: "Taskhub"})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	svc.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	err := svc.SendInvitationEmail("new@example.com", InvitationData{
		InviterName: "Avery",
		TargetName:  "Platform",
		Role:        "ADMIN",
		AcceptURL:   "https://example.com/accept?token=t1",
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("SendInvitationEmail() error = %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "new@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	for _, want := range []string{
		"From: Taskhub <noreply@example.com>",
		"Subject: You're invited to Platform on Taskhub",
		"multipart/alternative",
		"https://example.com/accept?token=t1",
	} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}
