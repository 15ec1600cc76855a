// Package announce implements spec.md §4.5's Announcer: pushing/refreshing/
// retracting announced-resource mirrors at remote CSEs per a resource's at
// (announcement targets) and aa (additional OA attributes) lists.
package announce

import (
	"context"
	"strings"

	"github.com/onem2m-cse/cse/infrastructure/logging"
	"github.com/onem2m-cse/cse/internal/policy"
	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/store"
)

// RemoteClient performs the three announced-resource operations against a
// remote CSE, addressed by cse-id. The concrete implementation,
// HTTPRemoteClient, resolves cse-id to a base URL through an
// EndpointResolver and talks to it over HTTP only.
type RemoteClient interface {
	CreateAnnounced(ctx context.Context, cseID, parentURI string, ty resource.Type, attrs map[string]interface{}) (remoteRI string, err error)
	UpdateAnnounced(ctx context.Context, cseID, remoteRI string, attrs map[string]interface{}) error
	DeleteAnnounced(ctx context.Context, cseID, remoteRI string) error
	RetrieveOriginal(ctx context.Context, cseID, lnk string) (*resource.Resource, error)
}

// Announcer drives create/update/delete mirroring for resources carrying a
// non-empty at.
type Announcer struct {
	Store  store.Store
	Policy *policy.Registry
	Remote RemoteClient
	Log    *logging.Logger
}

// New builds an Announcer.
func New(st store.Store, reg *policy.Registry, remote RemoteClient, log *logging.Logger) *Announcer {
	return &Announcer{Store: st, Policy: reg, Remote: remote, Log: log}
}

// Announce pushes a create of r's announced counterpart to every bare
// cse-id entry in r.AT (an entry not yet resolved to "<cse-id>/<remoteRi>"),
// then records the remote ri back into that entry, per spec.md §4.5
// "Create".
func (a *Announcer) Announce(ctx context.Context, r *resource.Resource, parentURI, selfURI string) error {
	dispositions := a.Policy.AnnounceDispositions(r.Ty)
	attrs := resource.MirroredAttributes(r, dispositions, r.AA)
	attrs["lnk"] = selfURI

	changed := false
	for i, entry := range r.AT {
		cseID, _, resolved := splitMirrorEntry(entry)
		if resolved {
			continue
		}
		remoteRI, err := a.Remote.CreateAnnounced(ctx, cseID, parentURI, resource.Announced(r.Ty), attrs)
		if err != nil {
			if a.Log != nil {
				a.Log.WithError(err).WithFields(map[string]interface{}{"cse": cseID, "ri": r.RI}).Warn("announce create failed")
			}
			continue
		}
		r.AT[i] = cseID + "/" + remoteRI
		changed = true
	}
	if changed {
		return a.Store.PutResource(ctx, r)
	}
	return nil
}

// Update recomputes the mirrored attribute subset and pushes it to every
// already-resolved mirror in r.AT, per spec.md §4.5 "Update". NA-disposition
// attributes are never included since MirroredAttributes only ever selects
// MA/OA attributes.
func (a *Announcer) Update(ctx context.Context, r *resource.Resource) error {
	dispositions := a.Policy.AnnounceDispositions(r.Ty)
	attrs := resource.MirroredAttributes(r, dispositions, r.AA)

	for _, entry := range r.AT {
		cseID, remoteRI, resolved := splitMirrorEntry(entry)
		if !resolved {
			continue
		}
		if err := a.Remote.UpdateAnnounced(ctx, cseID, remoteRI, attrs); err != nil && a.Log != nil {
			a.Log.WithError(err).WithFields(map[string]interface{}{"cse": cseID, "ri": r.RI}).Warn("announce update failed")
		}
	}
	return nil
}

// UnannounceOne deletes the single mirror at cseID and removes its entry
// from r.AT, per spec.md §4.5 "Removing a CSE ID from at deletes only that
// mirror."
func (a *Announcer) UnannounceOne(ctx context.Context, r *resource.Resource, cseID string) error {
	kept := make([]string, 0, len(r.AT))
	for _, entry := range r.AT {
		id, remoteRI, resolved := splitMirrorEntry(entry)
		if id != cseID {
			kept = append(kept, entry)
			continue
		}
		if resolved {
			if err := a.Remote.DeleteAnnounced(ctx, cseID, remoteRI); err != nil && a.Log != nil {
				a.Log.WithError(err).Warn("unannounce delete failed")
			}
		}
	}
	r.AT = kept
	return a.Store.PutResource(ctx, r)
}

// UnannounceDeleted tears down every mirror of r without touching the
// store, for the case where r has already been deleted (the dispatcher's
// delete path removes the row, then publishes the event this is driven
// from - re-persisting r here would resurrect it).
func (a *Announcer) UnannounceDeleted(ctx context.Context, r *resource.Resource) {
	for _, entry := range r.AT {
		cseID, remoteRI, resolved := splitMirrorEntry(entry)
		if !resolved {
			continue
		}
		if err := a.Remote.DeleteAnnounced(ctx, cseID, remoteRI); err != nil && a.Log != nil {
			a.Log.WithError(err).WithFields(map[string]interface{}{"cse": cseID}).Warn("unannounce-deleted delete failed")
		}
	}
}

// UnannounceAll deletes every mirror of r, called when the original is
// deleted or its at attribute is cleared entirely, per spec.md §4.5.
func (a *Announcer) UnannounceAll(ctx context.Context, r *resource.Resource) error {
	for _, entry := range r.AT {
		cseID, remoteRI, resolved := splitMirrorEntry(entry)
		if !resolved {
			continue
		}
		if err := a.Remote.DeleteAnnounced(ctx, cseID, remoteRI); err != nil && a.Log != nil {
			a.Log.WithError(err).WithFields(map[string]interface{}{"cse": cseID}).Warn("unannounce-all delete failed")
		}
	}
	r.AT = nil
	return a.Store.PutResource(ctx, r)
}

// EchoFromMirror applies an update received at a bi-directional mirror back
// onto its original, single-hop only (it never re-propagates), per
// spec.md §4.5 "to prevent loops".
func (a *Announcer) EchoFromMirror(ctx context.Context, mirror *resource.AnnouncedResource, attrs map[string]interface{}) error {
	if !mirror.BiDirectional {
		return nil
	}
	original, err := a.Store.GetResource(ctx, originalRIFromLink(mirror.Lnk))
	if err != nil {
		return err
	}
	for k, v := range attrs {
		original.Set(k, v)
	}
	return a.Store.PutResource(ctx, original)
}

// ForwardRetrieve implements rcn=originalResource on a mirror: the
// retrieval is forwarded to the origin CSE rather than answered locally,
// per spec.md §4.5.
func (a *Announcer) ForwardRetrieve(ctx context.Context, mirror *resource.AnnouncedResource) (*resource.Resource, error) {
	return a.Remote.RetrieveOriginal(ctx, mirror.OriginCSEID, mirror.Lnk)
}

// splitMirrorEntry parses an at entry: a bare "<cse-id>" (not yet
// announced) or a resolved "<cse-id>/<remoteRi>".
func splitMirrorEntry(entry string) (cseID, remoteRI string, resolved bool) {
	idx := strings.Index(entry, "/")
	if idx < 0 {
		return entry, "", false
	}
	return entry[:idx], entry[idx+1:], true
}

// originalRIFromLink extracts the trailing ri segment from an lnk
// SP-relative URI (".../<ri>").
func originalRIFromLink(lnk string) string {
	idx := strings.LastIndex(lnk, "/")
	if idx < 0 {
		return lnk
	}
	return lnk[idx+1:]
}
