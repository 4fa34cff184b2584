// Package capability maps permission names to authorization-directory
// capabilities and assigns them to users.
package capability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/stanstork/stratum-identity/internal/batch"
	"github.com/stanstork/stratum-identity/internal/directory"
	"github.com/stanstork/stratum-identity/internal/models"
)

// UnresolvedPermissionsError reports permissions that never showed up as
// capabilities within the configured attempts.
type UnresolvedPermissionsError struct {
	UserID      string
	Permissions []string
}

func (e *UnresolvedPermissionsError) Error() string {
	return fmt.Sprintf("failed to resolve capabilities for user %s, unresolved permissions: %s",
		e.UserID, strings.Join(e.Permissions, ", "))
}

type Options struct {
	BatchSize   int
	MaxAttempts int
	RetryDelay  time.Duration
}

// Resolution is the outcome of one Resolve call.
type Resolution struct {
	// Resolved maps a permission name to the ids of the capabilities it grants.
	Resolved   map[string][]string
	Unresolved []string
	Attempts   int
}

// CapabilityIDs returns the distinct capability ids of every resolved permission.
func (r Resolution) CapabilityIDs() []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0, len(r.Resolved))
	for _, capIDs := range r.Resolved {
		for _, id := range capIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

type Resolver struct {
	dir    directory.CapabilityDirectory
	opts   Options
	logger zerolog.Logger
}

func NewResolver(dir directory.CapabilityDirectory, opts Options, logger zerolog.Logger) *Resolver {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Millisecond
	}
	return &Resolver{
		dir:    dir,
		opts:   opts,
		logger: logger.With().Str("component", "capability_resolver").Logger(),
	}
}

// Resolve maps permissions to capabilities. Permissions missing after the
// first pass are re-queried on a fixed delay until they appear or the attempts
// run out, in which case the partial Resolution is returned together with an
// UnresolvedPermissionsError. A resolved permission is never dropped.
func (r *Resolver) Resolve(ctx context.Context, userID string, permissions []string) (Resolution, error) {
	res := Resolution{Resolved: make(map[string][]string)}
	pending := batch.Distinct(permissions)
	if len(pending) == 0 {
		return res, nil
	}

	backoff := retry.WithMaxRetries(uint64(r.opts.MaxAttempts-1), retry.NewConstant(r.opts.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res.Attempts++
		found, err := r.lookup(ctx, pending)
		if err != nil {
			return err
		}
		for _, perm := range pending {
			if ids, ok := found[perm]; ok {
				res.Resolved[perm] = ids
			}
		}
		pending = remaining(pending, res.Resolved)
		if len(pending) == 0 {
			return nil
		}

		r.logger.Debug().
			Str("user_id", userID).
			Int("attempt", res.Attempts).
			Int("unresolved", len(pending)).
			Msg("Capabilities not yet available, retrying")
		return retry.RetryableError(&UnresolvedPermissionsError{UserID: userID, Permissions: pending})
	})
	res.Unresolved = pending

	if err != nil {
		var unresolved *UnresolvedPermissionsError
		if errors.As(err, &unresolved) {
			r.logger.Warn().
				Str("user_id", userID).
				Int("attempts", res.Attempts).
				Strs("permissions", pending).
				Msg("Permissions could not be resolved to capabilities")
			return res, &UnresolvedPermissionsError{UserID: userID, Permissions: append([]string(nil), pending...)}
		}
		return res, errors.Wrapf(err, "resolve capabilities for user %s", userID)
	}
	return res, nil
}

// lookup queries the directory in bounded sub-batches.
func (r *Resolver) lookup(ctx context.Context, permissions []string) (map[string][]string, error) {
	found := make(map[string][]string)
	seen := make(map[models.Capability]struct{})
	for _, chunk := range batch.Partition(permissions, r.opts.BatchSize) {
		caps, err := r.dir.FindCapabilitiesByPermissions(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for _, c := range caps {
			if c.Permission == "" || c.ID == "" {
				continue
			}
			key := models.Capability{ID: c.ID, Permission: c.Permission}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			found[c.Permission] = append(found[c.Permission], c.ID)
		}
	}
	return found, nil
}

// AssignPermissions resolves permissions and assigns the capability set to
// the user in one call. Assigning a set the user already holds succeeds.
func (r *Resolver) AssignPermissions(ctx context.Context, userID string, permissions []string) error {
	res, err := r.Resolve(ctx, userID, permissions)
	if err != nil {
		return err
	}
	ids := res.CapabilityIDs()
	if len(ids) == 0 {
		return nil
	}

	err = r.dir.AssignCapabilities(ctx, userID, ids)
	if errors.Is(err, directory.ErrNothingToUpdate) {
		r.logger.Debug().Str("user_id", userID).Msg("Capabilities already assigned")
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "assign capabilities to user %s", userID)
	}
	r.logger.Debug().Str("user_id", userID).Int("capabilities", len(ids)).Msg("Capabilities assigned")
	return nil
}

func remaining(pending []string, resolved map[string][]string) []string {
	out := make([]string, 0, len(pending))
	for _, p := range pending {
		if _, ok := resolved[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}
