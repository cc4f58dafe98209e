package mailtransport

import (
	"context"
	"strings"
	"testing"

	smtpmock "github.com/mocktools/go-smtp-mock/v2"

	"github.com/retrack-dev/engine/internal/engineconfig"
)

func TestSMTPTransportSend(t *testing.T) {
	server := smtpmock.New(smtpmock.ConfigurationAttr{})
	if err := server.Start(); err != nil {
		t.Fatalf("start mock smtp server: %v", err)
	}
	defer server.Stop()

	transport := New(engineconfig.SMTPConfig{
		Host: server.HostAddress,
		Port: server.PortNumber,
		From: "retrack@example.com",
	})

	if err := transport.Send(context.Background(), []string{"recipient@example.com"}, "change detected", "content changed"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	messages := server.Messages()
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	if !strings.Contains(messages[0].MsgRequest(), "content changed") {
		t.Errorf("message body missing expected content: %s", messages[0].MsgRequest())
	}
}

func TestSMTPTransportRequiresRecipients(t *testing.T) {
	transport := New(engineconfig.SMTPConfig{Host: "localhost", Port: 2525, From: "retrack@example.com"})
	if err := transport.Send(context.Background(), nil, "subject", "body"); err == nil {
		t.Fatal("expected an error for an empty recipient list")
	}
}
