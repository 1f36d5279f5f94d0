// Package notify tells the lab how an upgrade went, one email per run.
package notify

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"bluelab/internal/common"

	"go.uber.org/zap"
	mail "gopkg.in/mail.v2"
)

const (
	SubjectSucceeded = "Automatic software upgrade SUCCEED"
	SubjectFailed    = "Automatic software upgrade FAILED"
)

type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Report is the outcome of one device upgrade.
type Report struct {
	Project         string
	Branch          string
	DeviceAddress   string
	ExpectedVersion string
	ReportedVersion string
	Succeeded       bool
	Err             error
}

// Compose renders r as a plain-text message.
func Compose(from string, to []string, r Report) Message {
	msg := Message{From: from, To: to}
	source := r.Project
	if r.Branch != "" {
		source = fmt.Sprintf("%s from branch: %s", r.Project, r.Branch)
	}
	if r.Succeeded {
		msg.Subject = SubjectSucceeded
		msg.Body = fmt.Sprintf("Software %s was installed successfully on STB: %s! Software hash: %s.",
			source, r.DeviceAddress, r.ExpectedVersion)
		return msg
	}

	msg.Subject = SubjectFailed
	reported := r.ReportedVersion
	if reported == "" {
		reported = "unknown"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Software %s was not installed successfully on STB: %s! Currently installed version %s is different to expected: %s.",
		source, r.DeviceAddress, reported, r.ExpectedVersion)
	if r.Err != nil {
		fmt.Fprintf(&b, "\n\nError: %v", r.Err)
	}
	msg.Body = b.String()
	return msg
}

type Notifier struct {
	sender Sender
	from   string
	to     []string
	logger *zap.Logger
}

func NewNotifier(sender Sender, from string, to []string, logger *zap.Logger) *Notifier {
	return &Notifier{sender: sender, from: from, to: to, logger: logger}
}

// Notify sends exactly one message for r.
func (n *Notifier) Notify(ctx context.Context, r Report) error {
	msg := Compose(n.from, n.to, r)
	n.logger.Info("sending notification", zap.String("subject", msg.Subject), zap.Strings("to", msg.To))
	if err := n.sender.Send(ctx, msg); err != nil {
		return common.WrapErrNo(common.NotifyErr, err)
	}
	return nil
}

// SMTPSender delivers through a relay that accepts unauthenticated mail,
// using STARTTLS when the server offers it.
type SMTPSender struct {
	dialer *mail.Dialer
}

// NewSMTPSender takes the relay as host:port.
func NewSMTPSender(server string, timeout time.Duration) (*SMTPSender, error) {
	host, portStr, err := net.SplitHostPort(server)
	if err != nil {
		return nil, common.Errorf(common.ConfigErr, "SMTP_SERVER %q: %w", server, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, common.Errorf(common.ConfigErr, "SMTP_SERVER %q: %w", server, err)
	}
	d := mail.NewDialer(host, port, "", "")
	d.Timeout = timeout
	d.StartTLSPolicy = mail.OpportunisticStartTLS
	return &SMTPSender{dialer: d}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := mail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	return s.dialer.DialAndSend(m)
}

// SplitAddresses accepts TO_MAIL_ADDRESS as a single address or a comma
// separated list.
func SplitAddresses(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
