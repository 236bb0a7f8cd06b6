package imagepipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tripshare/image-pipeline/pkg/imagepipeline/objectkey"
)

// ownerEmailMetaKey is the object-metadata key the upload path may stamp on
// an object; it is the cheapest email source so it is consulted first.
const ownerEmailMetaKey = "owner-email"

// ModeratorConfig tunes the moderation stage.
type ModeratorConfig struct {
	// MinConfidence is the floor below which findings are ignored.
	MinConfidence float64

	// ThumbnailSizes lists the derivative sizes whose keys must be
	// removed alongside the primary object on delete.
	ThumbnailSizes []int
}

func DefaultModeratorConfig() ModeratorConfig {
	return ModeratorConfig{
		MinConfidence:  75,
		ThumbnailSizes: []int{256, 512, 1024},
	}
}

// Moderator is the policy engine. It classifies detected issues by severity
// and dispatches exactly one of the four actions; delete and quarantine end
// the image's public life and mark the forwarded item terminal.
type Moderator struct {
	blobs    BlobStore
	meta     MetadataStore
	profiles ProfileStore
	identity IdentityResolver
	vision   ModerationClient
	mailer   Mailer
	alerts   AlertSink
	next     Forwarder
	config   ModeratorConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewModerator(blobs BlobStore, meta MetadataStore, profiles ProfileStore, identity IdentityResolver,
	vision ModerationClient, mailer Mailer, alerts AlertSink, next Forwarder,
	config ModeratorConfig, logger *slog.Logger) *Moderator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Moderator{
		blobs:    blobs,
		meta:     meta,
		profiles: profiles,
		identity: identity,
		vision:   vision,
		mailer:   mailer,
		alerts:   alerts,
		next:     next,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *Moderator) Name() string { return "moderator" }

func (m *Moderator) Process(ctx context.Context, item Item) error {
	log := m.logger.With("stage", m.Name(), "key", item.Key, "article_id", item.ArticleID)

	parsed, err := objectkey.Parse(item.Key)
	if err != nil {
		log.Warn("skipping object with unrecognized key", "error", err)
		return nil
	}
	if item.ArticleID == "" {
		item.ArticleID = parsed.ArticleID
		log = log.With("article_id", item.ArticleID)
	}

	verdict, err := m.evaluate(ctx, item, log)
	if err != nil {
		return &StageError{Stage: m.Name(), Key: item.Key, Err: err}
	}

	details := ModerationDetails{
		Action:    verdict.Action.String(),
		Issues:    verdict.Issues,
		Timestamp: m.now().UTC(),
	}
	if !verdict.Passed {
		details.MaxSeverity = verdict.MaxSeverity
	}

	// The action set is closed; every variant is handled here and the
	// terminal flag is derived from the handler, never guessed later.
	var terminal bool
	switch verdict.Action {
	case ActionLog:
		err = m.approve(ctx, item, details)
	case ActionFlag:
		err = m.flag(ctx, item, details)
	case ActionQuarantine:
		err = m.quarantine(ctx, item, parsed, details, verdict)
		terminal = true
	case ActionDelete:
		err = m.remove(ctx, item, parsed, details, verdict, log)
		terminal = true
	}
	if err != nil {
		return &StageError{Stage: m.Name(), Key: item.Key, Err: err}
	}

	item.Terminal = terminal
	item.Source = m.Name()
	if err := m.next.Forward(ctx, item); err != nil {
		return &StageError{Stage: m.Name(), Key: item.Key, Err: err}
	}
	log.Info("moderation complete",
		"action", verdict.Action.String(),
		"max_severity", string(verdict.MaxSeverity),
		"issues", len(verdict.Issues),
		"terminal", terminal)
	return nil
}

func (m *Moderator) evaluate(ctx context.Context, item Item, log *slog.Logger) (Verdict, error) {
	findings, err := m.vision.DetectModeration(ctx, item.Bucket, item.Key, m.config.MinConfidence)
	if err != nil {
		if errors.Is(err, ErrUnsupportedImage) {
			// The service cannot read the image and never will; park
			// it for a human instead of redelivering forever.
			log.Warn("moderation service cannot process image, flagging for review")
			return Verdict{
				MaxSeverity: SeverityMedium,
				Action:      ActionFlag,
				Issues: []ModerationIssue{{
					Category: "Unverifiable",
					Label:    "automated moderation unavailable",
					Severity: SeverityMedium,
				}},
			}, nil
		}
		return Verdict{}, err
	}
	return Evaluate(findings, m.config.MinConfidence), nil
}

func (m *Moderator) approve(ctx context.Context, item Item, details ModerationDetails) error {
	return m.meta.SetModeration(ctx, item.ArticleID, details, StatusApproved, nil)
}

func (m *Moderator) flag(ctx context.Context, item Item, details ModerationDetails) error {
	return m.meta.SetModeration(ctx, item.ArticleID, details, StatusFlagged, nil)
}

// quarantine moves the object out of the public prefix, stamping provenance
// metadata on the copy so a reviewer can trace it back.
func (m *Moderator) quarantine(ctx context.Context, item Item, parsed objectkey.Parsed, details ModerationDetails, verdict Verdict) error {
	quarantineKey := objectkey.Quarantine(m.now().UTC(), parsed.Filename)
	metadata := map[string]string{
		"original-key":   item.Key,
		"reason":         quarantineReason(verdict),
		"quarantined-at": m.now().UTC().Format(time.RFC3339),
	}
	if err := m.blobs.Copy(ctx, item.Key, quarantineKey, metadata); err != nil {
		return err
	}
	if err := m.blobs.Delete(ctx, item.Key); err != nil {
		return err
	}
	if err := m.meta.SetModeration(ctx, item.ArticleID, details, StatusQuarantined, &quarantineKey); err != nil {
		return err
	}
	m.alert(ctx, item, verdict)
	return nil
}

// remove deletes the primary object and every derivative, clears all image
// references, and tells the owner. The email send can fail without failing
// the stage; the attempt is parked as a pending notification instead.
func (m *Moderator) remove(ctx context.Context, item Item, parsed objectkey.Parsed, details ModerationDetails, verdict Verdict, log *slog.Logger) error {
	record, err := m.meta.GetArticle(ctx, item.ArticleID)
	if err != nil && !errors.Is(err, ErrArticleNotFound) {
		return err
	}

	m.notifyRejection(ctx, item, record, verdict, log)

	for _, key := range m.deletionKeys(item, parsed, record) {
		if err := m.blobs.Delete(ctx, key); err != nil {
			return err
		}
	}
	if err := m.meta.ClearImageRefs(ctx, item.ArticleID); err != nil && !errors.Is(err, ErrArticleNotFound) {
		return err
	}
	if err := m.meta.SetModeration(ctx, item.ArticleID, details, StatusRejected, nil); err != nil && !errors.Is(err, ErrArticleNotFound) {
		return err
	}
	m.alert(ctx, item, verdict)
	return nil
}

// deletionKeys collects the primary key, every configured derivative key,
// and every key the record itself references, deduplicated. Deleting a key
// that was never written is a storage no-op.
func (m *Moderator) deletionKeys(item Item, parsed objectkey.Parsed, record *MediaRecord) []string {
	seen := map[string]bool{item.Key: true}
	keys := []string{item.Key}
	for _, size := range m.config.ThumbnailSizes {
		key := objectkey.Thumbnail(parsed.Stem, size)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	if record != nil {
		for _, key := range record.ThumbnailKeys {
			if key != "" && !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	return keys
}

func (m *Moderator) notifyRejection(ctx context.Context, item Item, record *MediaRecord, verdict Verdict, log *slog.Logger) {
	// A redelivered message must not email the owner a second time; the
	// notified guard is claimed below only after a successful send.
	if record != nil && record.Notified {
		log.Info("owner already notified, skipping rejection email")
		return
	}
	email := m.resolveOwnerEmail(ctx, item, record)
	if email == "" {
		log.Warn("no owner email found, skipping rejection notice")
		return
	}

	subject, body := rejectionEmail(item.ArticleID, verdict.Issues)
	if err := m.mailer.Send(ctx, email, subject, body); err != nil {
		log.Warn("rejection email failed, parking for retry", "error", err)
		pending := PendingNotification{
			Email:     email,
			Kind:      "rejection",
			Subject:   subject,
			Body:      body,
			Error:     err.Error(),
			CreatedAt: m.now().UTC(),
		}
		if perr := m.meta.SavePendingNotification(ctx, item.ArticleID, pending); perr != nil {
			log.Error("failed to persist pending notification", "error", perr)
		}
		return
	}
	// Claim the one-email guard so the notifier does not send a second
	// status email for this article.
	if _, err := m.meta.MarkNotified(ctx, item.ArticleID); err != nil {
		log.Warn("failed to mark article notified", "error", err)
	}
}

// resolveOwnerEmail tries, in order, the object metadata stamped at upload,
// the profile store, and the external identity service.
func (m *Moderator) resolveOwnerEmail(ctx context.Context, item Item, record *MediaRecord) string {
	if meta, err := m.blobs.GetObjectMeta(ctx, item.Key); err == nil && meta != nil {
		if email := meta.Metadata[ownerEmailMetaKey]; email != "" {
			return email
		}
	}
	if record == nil || record.OwnerID == "" {
		return ""
	}
	if m.profiles != nil {
		if email, err := m.profiles.OwnerEmail(ctx, record.OwnerID); err == nil && email != "" {
			return email
		}
	}
	if m.identity != nil {
		if email, err := m.identity.Email(ctx, record.OwnerID); err == nil && email != "" {
			return email
		}
	}
	return ""
}

func (m *Moderator) alert(ctx context.Context, item Item, verdict Verdict) {
	if m.alerts == nil {
		return
	}
	if verdict.MaxSeverity != SeverityCritical && verdict.MaxSeverity != SeverityHigh {
		return
	}
	subject := fmt.Sprintf("Content %s: article %s", verdict.Action.String(), item.ArticleID)
	var b strings.Builder
	fmt.Fprintf(&b, "Article: %s\nKey: %s\nAction: %s\nSeverity: %s\n\nDetections:\n",
		item.ArticleID, item.Key, verdict.Action.String(), verdict.MaxSeverity)
	for _, issue := range verdict.Issues {
		fmt.Fprintf(&b, "- %s / %s (%.1f%%, %s)\n", issue.Category, issue.Label, issue.Confidence, issue.Severity)
	}
	// Fire and forget. An alert that cannot be delivered must not undo a
	// completed enforcement action.
	if err := m.alerts.Alert(ctx, subject, b.String()); err != nil {
		m.logger.Warn("admin alert failed", "article_id", item.ArticleID, "error", err)
	}
}

func quarantineReason(verdict Verdict) string {
	if len(verdict.Issues) == 0 {
		return string(verdict.MaxSeverity)
	}
	top := verdict.Issues[0]
	for _, issue := range verdict.Issues[1:] {
		if severityRank[issue.Severity] > severityRank[top.Severity] {
			top = issue
		}
	}
	return fmt.Sprintf("%s: %s", verdict.MaxSeverity, top.Category)
}

// rejectionEmail builds the user-facing rejection notice. Issue categories
// are summarized without confidence scores or service jargon.
func rejectionEmail(articleID string, issues []ModerationIssue) (subject, body string) {
	subject = "Your photo could not be published"

	categories := make([]string, 0, len(issues))
	seen := map[string]bool{}
	for _, issue := range issues {
		if !seen[issue.Category] {
			seen[issue.Category] = true
			categories = append(categories, issue.Category)
		}
	}

	var b strings.Builder
	b.WriteString("Hi,\n\n")
	b.WriteString("The photo you uploaded could not be published because it did not pass our content review.\n\n")
	if len(categories) > 0 {
		b.WriteString("What we found:\n")
		for _, c := range categories {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Reference: %s\n\n", articleID)
	b.WriteString("If you believe this was a mistake, you can reply to this email and our team will take a look.\n")
	return subject, b.String()
}
