package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/LeventeLantos/contact-relay/internal/model"
)

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Dialer opens an SMTP session. *gomail.Dialer satisfies it.
type Dialer interface {
	Dial() (gomail.SendCloser, error)
}

// EmailClient sends one summary email per batch of contact messages.
type EmailClient struct {
	cfg    EmailConfig
	dialer Dialer
}

func NewEmailClient(cfg EmailConfig) *EmailClient {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &EmailClient{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (c *EmailClient) WithDialer(d Dialer) *EmailClient {
	c.dialer = d
	return c
}

func (c *EmailClient) Name() string { return "email" }

// Validate reports missing settings without touching the network.
func (c *EmailClient) Validate() error {
	var errs []error
	if c.cfg.Host == "" {
		errs = append(errs, errors.New("EMAIL_HOST is not set"))
	}
	if c.cfg.Port <= 0 {
		errs = append(errs, errors.New("EMAIL_PORT is not set"))
	}
	if c.cfg.From == "" {
		errs = append(errs, errors.New("EMAIL_FROM or EMAIL_USER is not set"))
	}
	if len(c.cfg.To) == 0 {
		errs = append(errs, errors.New("EMAIL_TO is not set"))
	}
	return errors.Join(errs...)
}

// Check validates the settings and opens (then closes) an SMTP session.
func (c *EmailClient) Check(ctx context.Context) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s, err := c.dialer.Dial()
	if err != nil {
		return fmt.Errorf("smtp dial %s:%d: %w", c.cfg.Host, c.cfg.Port, err)
	}
	return s.Close()
}

func (c *EmailClient) Notify(ctx context.Context, entries []model.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := c.message(entries)

	s, err := c.dialer.Dial()
	if err != nil {
		return fmt.Errorf("smtp dial %s:%d: %w", c.cfg.Host, c.cfg.Port, err)
	}
	defer s.Close()

	if err := gomail.Send(s, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (c *EmailClient) message(entries []model.QueueEntry) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", c.cfg.From)
	m.SetHeader("To", c.cfg.To...)
	m.SetHeader("Subject", summarySubject(entries))

	// Replying to a single submission should reach the submitter.
	if len(entries) == 1 && strings.Contains(entries[0].Email, "@") {
		m.SetHeader("Reply-To", entries[0].Email)
	}

	m.SetBody("text/plain", summaryText(entries))
	m.AddAlternative("text/html", summaryHTML(entries))
	return m
}
