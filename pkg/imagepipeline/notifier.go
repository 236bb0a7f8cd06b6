package imagepipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// NotifierConfig tunes the status email.
type NotifierConfig struct {
	// PublicBaseURL prefixes derivative keys in the approval email so the
	// links resolve through the public CDN host.
	PublicBaseURL string
}

// Notifier sends the final status email, exactly once per article. Every
// failure mode here is soft: a missing article, owner, or email cannot be
// repaired by redelivery, so they are logged and the item counts as
// processed.
type Notifier struct {
	meta     MetadataStore
	profiles ProfileStore
	identity IdentityResolver
	mailer   Mailer
	config   NotifierConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewNotifier(meta MetadataStore, profiles ProfileStore, identity IdentityResolver,
	mailer Mailer, config NotifierConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		meta:     meta,
		profiles: profiles,
		identity: identity,
		mailer:   mailer,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

func (n *Notifier) Name() string { return "notifier" }

func (n *Notifier) Process(ctx context.Context, item Item) error {
	log := n.logger.With("stage", n.Name(), "key", item.Key, "article_id", item.ArticleID)

	record, err := n.meta.GetArticle(ctx, item.ArticleID)
	if err != nil {
		if errors.Is(err, ErrArticleNotFound) {
			log.Warn("article missing, skipping notification")
			return nil
		}
		return &StageError{Stage: n.Name(), Key: item.Key, Err: err}
	}
	if record.Notified {
		log.Info("already notified, skipping")
		return nil
	}

	email := n.resolveOwnerEmail(ctx, record.OwnerID)
	if email == "" {
		log.Warn("no owner email found, skipping notification", "owner_id", record.OwnerID)
		return nil
	}

	var subject, body string
	if record.Status.Rejecting() {
		var issues []ModerationIssue
		if record.Moderation != nil {
			issues = record.Moderation.Issues
		}
		subject, body = rejectionEmail(record.ArticleID, issues)
	} else {
		subject, body = n.approvalEmail(record)
	}

	if err := n.mailer.Send(ctx, email, subject, body); err != nil {
		log.Warn("status email failed, parking for retry", "error", err)
		pending := PendingNotification{
			Email:     email,
			Kind:      "status",
			Subject:   subject,
			Body:      body,
			Error:     err.Error(),
			CreatedAt: n.now().UTC(),
		}
		if perr := n.meta.SavePendingNotification(ctx, item.ArticleID, pending); perr != nil {
			log.Error("failed to persist pending notification", "error", perr)
		}
		return nil
	}

	claimed, err := n.meta.MarkNotified(ctx, item.ArticleID)
	if err != nil {
		return &StageError{Stage: n.Name(), Key: item.Key, Err: err}
	}
	log.Info("status email sent", "to", email, "claimed", claimed)
	return nil
}

func (n *Notifier) resolveOwnerEmail(ctx context.Context, ownerID string) string {
	if ownerID == "" {
		return ""
	}
	if n.profiles != nil {
		if email, err := n.profiles.OwnerEmail(ctx, ownerID); err == nil && email != "" {
			return email
		}
	}
	if n.identity != nil {
		if email, err := n.identity.Email(ctx, ownerID); err == nil && email != "" {
			return email
		}
	}
	return ""
}

// approvalEmail summarizes everything the pipeline learned about the photo.
func (n *Notifier) approvalEmail(record *MediaRecord) (subject, body string) {
	subject = "Your photo is live"

	var b strings.Builder
	b.WriteString("Hi,\n\n")
	b.WriteString("Good news: your photo passed review and is now visible.\n\n")

	if len(record.LabelDetails) > 0 {
		b.WriteString("Tags we added:\n")
		for _, detail := range record.LabelDetails {
			if detail.Confidence > 0 {
				fmt.Fprintf(&b, "- %s (%.0f%% confidence)\n", detail.Name, detail.Confidence)
			} else {
				fmt.Fprintf(&b, "- %s\n", detail.Name)
			}
		}
		b.WriteString("\n")
	} else if len(record.AutoTags) > 0 {
		fmt.Fprintf(&b, "Tags we added: %s\n\n", strings.Join(record.AutoTags, ", "))
	}

	if meta := record.ImageMetadata; meta != nil {
		fmt.Fprintf(&b, "Resolution: %dx%d (%.1f MP, %s quality)\n",
			meta.Quality.Width, meta.Quality.Height, meta.Quality.Megapixels, meta.Quality.Rating)
		if len(meta.Colors) > 0 {
			hexes := make([]string, 0, len(meta.Colors))
			for _, c := range meta.Colors {
				hexes = append(hexes, c.Hex)
			}
			fmt.Fprintf(&b, "Dominant colors: %s\n", strings.Join(hexes, ", "))
		}
		if meta.GPS != nil {
			fmt.Fprintf(&b, "Location: %.5f, %.5f\n", meta.GPS.Latitude, meta.GPS.Longitude)
		}
		if meta.Camera != nil && (meta.Camera.Make != "" || meta.Camera.Model != "") {
			fmt.Fprintf(&b, "Camera: %s\n", strings.TrimSpace(meta.Camera.Make+" "+meta.Camera.Model))
		}
		b.WriteString("\n")
	}

	if len(record.ThumbnailKeys) > 0 {
		b.WriteString("Previews:\n")
		names := make([]string, 0, len(record.ThumbnailKeys))
		for name := range record.ThumbnailKeys {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %s\n", name, n.publicURL(record.ThumbnailKeys[name]))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Reference: %s\n", record.ArticleID)
	return subject, b.String()
}

func (n *Notifier) publicURL(key string) string {
	if n.config.PublicBaseURL == "" {
		return key
	}
	return strings.TrimRight(n.config.PublicBaseURL, "/") + "/" + key
}
