package remotecache

import "github.com/hamoodtechit/hamoodsoft/internal/session"

// MergeBusiness overlays fresh onto existing. Fresh fields win except
// Modules: a partial upstream response with an empty module list must not
// silently revoke feature access, so a non-empty existing list is preserved
// when the fresh one is empty.
func MergeBusiness(existing, fresh session.Business) session.Business {
	merged := fresh
	if len(fresh.Modules) == 0 && len(existing.Modules) > 0 {
		merged.Modules = append([]string(nil), existing.Modules...)
	}
	if fresh.Name == "" {
		merged.Name = existing.Name
	}
	if fresh.OwnerID == "" {
		merged.OwnerID = existing.OwnerID
	}
	return merged
}

// MergeBusinesses reconciles a fresh list with the previously known one,
// keyed by business ID. Businesses present in only one source are kept
// as-is; businesses in both are merged with MergeBusiness. Fresh order is
// preserved, with leftover known businesses appended in their prior order.
func MergeBusinesses(existing, fresh []session.Business) []session.Business {
	if len(existing) == 0 {
		return session.CloneBusinesses(fresh)
	}
	if len(fresh) == 0 {
		return session.CloneBusinesses(existing)
	}

	known := make(map[string]session.Business, len(existing))
	for _, b := range existing {
		known[b.ID] = b
	}

	merged := make([]session.Business, 0, len(fresh))
	seen := make(map[string]struct{}, len(fresh))
	for _, b := range fresh {
		if prior, ok := known[b.ID]; ok {
			merged = append(merged, MergeBusiness(prior, b))
		} else {
			merged = append(merged, b)
		}
		seen[b.ID] = struct{}{}
	}
	for _, b := range existing {
		if _, ok := seen[b.ID]; !ok {
			merged = append(merged, b)
		}
	}
	return session.CloneBusinesses(merged)
}

// UpsertBusiness merges one business into a list, appending when absent.
func UpsertBusiness(list []session.Business, b session.Business) []session.Business {
	out := session.CloneBusinesses(list)
	for i, existing := range out {
		if existing.ID == b.ID {
			out[i] = MergeBusiness(existing, b)
			return out
		}
	}
	return append(out, b)
}
