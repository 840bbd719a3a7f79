// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

// Package reconcile keeps the mirrored directory consistent with the hub.
//
// One cycle runs sequentially: load groups, load users, purge stale users,
// purge stale groups. Groups load first so membership back-references can
// be attached at user creation time. Purge runs last so a user whose
// membership changed mid-cycle is not deleted by mistake, and each purge
// phase is skipped entirely when its load phase did not complete —
// otherwise entries the load never reached would look stale.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowkode/hubdir/pkg/directory"
	"github.com/flowkode/hubdir/pkg/hub"
	"github.com/flowkode/hubdir/pkg/logger"

	"github.com/google/uuid"
)

// Config configures the engine.
type Config struct {
	// RootDN is the suffix of the mirrored tree, e.g. dc=hub.
	RootDN string

	// PageSize used against the hub's paginated list endpoints (default: 10).
	PageSize int

	// SyncSSHKeys publishes each user's hub SSH public keys as
	// sshPublicKey attribute values. Costs one extra hub call per user.
	SyncSSHKeys bool
}

// CycleResult aggregates one cycle. Err carries every failure the cycle
// absorbed; a non-nil Err with non-zero counts means a partial cycle.
type CycleResult struct {
	GroupsLoaded int
	UsersLoaded  int
	UsersPurged  int
	GroupsPurged int
	Err          error
}

// Engine drives full-sync cycles. It holds no state between cycles beyond
// the store itself; every cycle starts from a fresh token and offset 0.
type Engine struct {
	hub    hub.Client
	store  directory.Store
	config Config
}

func NewEngine(hubClient hub.Client, store directory.Store, cfg Config) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	return &Engine{
		hub:    hubClient,
		store:  store,
		config: cfg,
	}
}

// RunCycle executes one full sync pass. It never panics and never returns
// control with the store in an undefined state: on any failure the store
// simply remains as of the last completed step.
func (e *Engine) RunCycle(ctx context.Context) CycleResult {
	cycleLog := logger.Ctx(ctx).With().Str("cycle_id", uuid.NewString()).Logger()
	ctx = logger.WithLogger(ctx, &cycleLog)

	start := time.Now()
	cyclesTotal.Inc()
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
	}()

	var res CycleResult

	token, err := e.hub.ServiceLogin(ctx)
	if err != nil {
		res.Err = fmt.Errorf("service login: %w", err)
		cycleErrors.Inc()
		cycleLog.Error().Err(err).Msg("cycle aborted, could not log in to hub")
		return res
	}

	groupDNs, groupsComplete := e.loadGroups(ctx, token, &res)
	usersComplete := e.loadUsers(ctx, token, groupDNs, &res)

	if usersComplete {
		e.purgeUsers(ctx, token, &res)
	} else {
		cycleLog.Warn().Msg("user load incomplete, skipping user purge")
	}
	if groupsComplete {
		e.purgeGroups(ctx, token, &res)
	} else {
		cycleLog.Warn().Msg("group load incomplete, skipping group purge")
	}

	if res.Err != nil {
		cycleErrors.Inc()
	} else {
		lastSuccessTimestamp.SetToCurrentTime()
	}

	cycleLog.Info().
		Int("groups_loaded", res.GroupsLoaded).
		Int("users_loaded", res.UsersLoaded).
		Int("users_purged", res.UsersPurged).
		Int("groups_purged", res.GroupsPurged).
		Dur("duration", time.Since(start)).
		Err(res.Err).
		Msg("sync cycle finished")

	return res
}

// loadGroups pages through the hub's groups and upserts each one. The
// returned map (group id -> DN) is cycle-scoped and handed to the user
// load for membership resolution; it never survives the cycle.
func (e *Engine) loadGroups(ctx context.Context, token string, res *CycleResult) (map[string]string, bool) {
	log := logger.Ctx(ctx)
	groupDNs := make(map[string]string)

	offset := 0
	for {
		page, err := e.hub.ListGroups(ctx, token, offset, e.config.PageSize)
		if err != nil {
			res.Err = errors.Join(res.Err, fmt.Errorf("list groups at offset %d: %w", offset, err))
			return groupDNs, false
		}

		for _, group := range page.Groups {
			dn := directory.GroupDN(e.config.RootDN, group.Name)
			if err := e.store.Upsert(ctx, dn, e.groupAttributes(group)); err != nil {
				res.Err = errors.Join(res.Err, fmt.Errorf("upsert group %s: %w", dn, err))
				continue
			}
			groupDNs[group.ID] = dn
			res.GroupsLoaded++
			log.Debug().Str("group", group.Name).Str("dn", dn).Msg("mirrored group")
		}

		offset += e.config.PageSize
		if offset >= page.Total {
			return groupDNs, true
		}
	}
}

func (e *Engine) groupAttributes(group hub.Group) map[string][]string {
	return map[string][]string{
		"objectClass": {"top", "groupOfNames"},
		"cn":          {group.Name},
		"description": {group.ID},
		// groupOfNames requires at least one member; members proper are
		// appended as users referencing this group are materialized.
		"member": {e.config.RootDN},
	}
}

// loadUsers pages through the hub's users, upserting a principal per user
// and appending it to the member attribute of each group it resolves to.
func (e *Engine) loadUsers(ctx context.Context, token string, groupDNs map[string]string, res *CycleResult) bool {
	offset := 0
	for {
		page, err := e.hub.ListUsers(ctx, token, offset, e.config.PageSize)
		if err != nil {
			res.Err = errors.Join(res.Err, fmt.Errorf("list users at offset %d: %w", offset, err))
			return false
		}

		for i := range page.Users {
			if err := e.addUser(ctx, token, &page.Users[i], groupDNs); err != nil {
				res.Err = errors.Join(res.Err, err)
				continue
			}
			res.UsersLoaded++
		}

		offset += e.config.PageSize
		if offset >= page.Total {
			return true
		}
	}
}

func (e *Engine) addUser(ctx context.Context, token string, user *hub.User, groupDNs map[string]string) error {
	log := logger.Ctx(ctx)
	dn := directory.UserDN(e.config.RootDN, user.Name)

	// Resolve memberships against the groups seen this cycle. A group the
	// group load did not materialize is skipped; the link appears on the
	// next cycle once the group exists.
	var memberOf []string
	for _, group := range user.Groups {
		groupDN, known := groupDNs[group.ID]
		if !known {
			log.Debug().Str("user", user.Login).Str("group_id", group.ID).Msg("membership skipped, group not mirrored this cycle")
			continue
		}
		memberOf = append(memberOf, groupDN)
	}

	attrs := map[string][]string{
		"objectClass": {"top", "person", "organizationalPerson", "inetOrgPerson"},
		"cn":          {user.Name},
		"sn":          {" "},
		"uid":         {user.Login},
		"mail":        {user.EmailAddress()},
		"description": {user.ID},
	}
	if len(memberOf) > 0 {
		attrs["memberOf"] = memberOf
	}

	if e.config.SyncSSHKeys {
		keys, err := e.fetchSSHKeys(ctx, token, user.ID)
		if err != nil {
			log.Warn().Err(err).Str("user", user.Login).Msg("could not fetch ssh keys")
		} else if len(keys) > 0 {
			attrs["objectClass"] = append(attrs["objectClass"], "ldapPublicKey")
			attrs["sshPublicKey"] = keys
		}
	}

	if err := e.store.Upsert(ctx, dn, attrs); err != nil {
		return fmt.Errorf("upsert user %s: %w", dn, err)
	}
	log.Debug().Str("user", user.Login).Str("dn", dn).Msg("mirrored user")

	for _, groupDN := range memberOf {
		if err := e.store.AppendAttribute(ctx, groupDN, "member", dn); err != nil {
			log.Warn().Err(err).Str("group_dn", groupDN).Str("user_dn", dn).Msg("could not record group member")
		}
	}
	return nil
}

func (e *Engine) fetchSSHKeys(ctx context.Context, token, userID string) ([]string, error) {
	var keys []string
	offset := 0
	for {
		page, err := e.hub.ListSSHKeys(ctx, token, userID, offset, e.config.PageSize)
		if err != nil {
			return nil, err
		}
		for _, key := range page.Keys {
			if key.OpenSSHKey != "" {
				keys = append(keys, key.OpenSSHKey)
			} else if key.Data != "" {
				keys = append(keys, key.Data)
			}
		}
		offset += e.config.PageSize
		if offset >= page.Total {
			return keys, nil
		}
	}
}

// purgeUsers deletes mirrored principals whose hub id no longer exists.
// The description attribute holds the immutable hub id; the display name
// is not stable across syncs and cannot serve as the join key. Per-entry
// probe failures are logged and skipped, never aborting the scan.
func (e *Engine) purgeUsers(ctx context.Context, token string, res *CycleResult) {
	log := logger.Ctx(ctx)

	entries, err := e.store.FindAll(ctx, "person")
	if err != nil {
		res.Err = errors.Join(res.Err, fmt.Errorf("scan mirrored users: %w", err))
		return
	}

	for _, entry := range entries {
		id := entry.First("description")
		if id == "" {
			continue
		}

		remote, err := e.hub.GetUser(ctx, token, id)
		stale := errors.Is(err, hub.ErrNotFound)
		if err != nil && !stale {
			log.Warn().Err(err).Str("dn", entry.DN).Msg("user existence probe failed, keeping entry")
			purgeProbeErrors.Inc()
			continue
		}
		// An id lookup answering with a different id means the id was
		// reused; treat like not-found.
		if !stale && remote.ID != id {
			stale = true
		}
		if !stale {
			continue
		}

		if err := e.store.Delete(ctx, entry.DN); err != nil {
			log.Warn().Err(err).Str("dn", entry.DN).Msg("could not delete stale user")
			continue
		}
		res.UsersPurged++
		entriesPurged.WithLabelValues("user").Inc()
		log.Info().Str("dn", entry.DN).Str("hub_id", id).Msg("purged stale user")
	}
}

// purgeGroups is the group-side twin of purgeUsers.
func (e *Engine) purgeGroups(ctx context.Context, token string, res *CycleResult) {
	log := logger.Ctx(ctx)

	entries, err := e.store.FindAll(ctx, "groupOfNames")
	if err != nil {
		res.Err = errors.Join(res.Err, fmt.Errorf("scan mirrored groups: %w", err))
		return
	}

	for _, entry := range entries {
		id := entry.First("description")
		if id == "" {
			continue
		}

		remote, err := e.hub.GetGroup(ctx, token, id)
		stale := errors.Is(err, hub.ErrNotFound)
		if err != nil && !stale {
			log.Warn().Err(err).Str("dn", entry.DN).Msg("group existence probe failed, keeping entry")
			purgeProbeErrors.Inc()
			continue
		}
		if !stale && remote.ID != id {
			stale = true
		}
		if !stale {
			continue
		}

		if err := e.store.Delete(ctx, entry.DN); err != nil {
			log.Warn().Err(err).Str("dn", entry.DN).Msg("could not delete stale group")
			continue
		}
		res.GroupsPurged++
		entriesPurged.WithLabelValues("group").Inc()
		log.Info().Str("dn", entry.DN).Str("hub_id", id).Msg("purged stale group")
	}
}
