package tracker

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"bluelab/internal/common"

	"go.uber.org/zap"
)

const jiraDate = "2006-01-02"

// Changelog reads the issue keys listed in the last comment of the
// changelog issue and stamps them with fix versions.
type Changelog struct {
	client       *Client
	project      string
	changelogKey string
	issueKey     *regexp.Regexp
	logger       *zap.Logger
}

func NewChangelog(client *Client, project, changelogKey string, logger *zap.Logger) *Changelog {
	return &Changelog{
		client:       client,
		project:      project,
		changelogKey: changelogKey,
		issueKey:     regexp.MustCompile(regexp.QuoteMeta(project) + `-[1-9][0-9]*`),
		logger:       logger,
	}
}

// FromConfig builds a Changelog from the JIRA section.
func FromConfig(cfg common.JiraConfig, logger *zap.Logger) (*Changelog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := NewClient(cfg.ServerAddress, NewHTTPClient(cfg.User, cfg.Password, time.Minute))
	return NewChangelog(client, cfg.ProjectTag, cfg.ChangelogTag, logger), nil
}

// NewEntries returns the issue keys mentioned in the last changelog comment,
// first mention per line, without duplicates, in order of appearance.
func (c *Changelog) NewEntries(ctx context.Context) ([]string, error) {
	comment, err := c.client.LastComment(ctx, c.changelogKey)
	if err != nil {
		return nil, common.WrapErrNo(common.ChangelogErr, err)
	}
	if comment == nil {
		c.logger.Info("changelog has no comments", zap.String("issue", c.changelogKey))
		return nil, nil
	}
	keys := ParseIssueKeys(c.issueKey, comment.Body)
	c.logger.Info("changelog entries", zap.String("issue", c.changelogKey), zap.Strings("keys", keys))
	return keys, nil
}

// ParseIssueKeys applies re to each line of body.
func ParseIssueKeys(re *regexp.Regexp, body string) []string {
	var keys []string
	seen := map[string]bool{}
	for _, line := range strings.Split(body, "\n") {
		key := re.FindString(line)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

// MarkFixVersion creates a released version named name, dated day, and adds
// it to every issue. It stops at the first failure.
func (c *Changelog) MarkFixVersion(ctx context.Context, name string, day time.Time, issues []string) error {
	if name == "" {
		return common.Errorf(common.ChangelogErr, "empty fix version")
	}
	date := day.Format(jiraDate)
	err := c.client.CreateVersion(ctx, Version{
		Name:        name,
		Project:     c.project,
		Released:    true,
		StartDate:   date,
		ReleaseDate: date,
	})
	if err != nil {
		return common.WrapErrNo(common.ChangelogErr, err)
	}
	for _, key := range issues {
		c.logger.Info("adding fix version", zap.String("issue", key), zap.String("version", name))
		if err := c.client.AddFixVersion(ctx, key, name); err != nil {
			return common.WrapErrNo(common.ChangelogErr, fmt.Errorf("%s: %w", key, err))
		}
	}
	return nil
}
