package esi

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"standings/internal/contacts"
	"standings/internal/models"
	"standings/internal/observability"
)

// Status is the payload of GET /status/.
type Status struct {
	Players       int    `json:"players"`
	ServerVersion string `json:"server_version"`
	VIP           bool   `json:"vip,omitempty"`
}

// Online returns nil when ESI is reachable and the game server accepts players.
func (c *Client) Online(ctx context.Context) error {
	var st Status
	if _, err := c.do(ctx, request{method: http.MethodGet, route: "/status/", path: "/status/"}, &st); err != nil {
		return err
	}
	if st.VIP {
		return models.NewTransientError("ESI reports the server in VIP mode", nil)
	}
	return nil
}

func contactsPath(characterID int64) string {
	return fmt.Sprintf("/characters/%d/contacts/", characterID)
}

// Contacts returns every contact of the token's character, following X-Pages.
func (c *Client) Contacts(ctx context.Context, tok *models.CharacterToken) ([]contacts.Contact, error) {
	var all []contacts.Contact
	pages := 1
	for page := 1; page <= pages; page++ {
		var batch []contacts.Contact
		header, err := c.do(ctx, request{
			method: http.MethodGet,
			route:  "/characters/{id}/contacts/",
			path:   contactsPath(tok.CharacterID),
			query:  url.Values{"page": {strconv.Itoa(page)}},
			token:  tok.AccessToken,
		}, &batch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if page == 1 {
			if n, perr := strconv.Atoi(header.Get("X-Pages")); perr == nil && n > 1 {
				pages = n
			}
		}
	}
	return all, nil
}

// Labels returns the contact labels defined on the token's character.
func (c *Client) Labels(ctx context.Context, tok *models.CharacterToken) ([]contacts.LabelInfo, error) {
	var labels []contacts.LabelInfo
	_, err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/characters/{id}/contacts/labels/",
		path:   fmt.Sprintf("/characters/%d/contacts/labels/", tok.CharacterID),
		token:  tok.AccessToken,
	}, &labels)
	return labels, err
}

// Snapshot reads contacts and labels for the token's character.
func (c *Client) Snapshot(ctx context.Context, tok *models.CharacterToken) (contacts.Snapshot, error) {
	list, err := c.Contacts(ctx, tok)
	if err != nil {
		return contacts.Snapshot{}, err
	}
	labels, err := c.Labels(ctx, tok)
	if err != nil {
		return contacts.Snapshot{}, err
	}
	return contacts.Snapshot{CharacterID: tok.CharacterID, Contacts: list, Labels: labels}, nil
}

// writeGroup is a set of contacts sharing standing and labels, which ESI accepts in one call.
type writeGroup struct {
	standing float64
	labelIDs []int64
	ids      []int64
}

func groupChanges(changes []contacts.Change) []writeGroup {
	index := map[string]int{}
	var groups []writeGroup
	for _, ch := range changes {
		labels := slices.Clone(ch.LabelIDs)
		slices.Sort(labels)
		key := fmt.Sprintf("%g|%v", ch.Standing, labels)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, writeGroup{standing: ch.Standing, labelIDs: labels})
		}
		groups[i].ids = append(groups[i].ids, ch.Ref.ID)
	}
	for i := range groups {
		slices.Sort(groups[i].ids)
	}
	slices.SortFunc(groups, func(a, b writeGroup) int {
		if n := cmp.Compare(a.standing, b.standing); n != 0 {
			return n
		}
		return slices.Compare(a.labelIDs, b.labelIDs)
	})
	return groups
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// AddContacts creates contacts and returns the ids ESI confirmed.
func (c *Client) AddContacts(ctx context.Context, tok *models.CharacterToken, changes []contacts.Change) ([]int64, error) {
	return c.writeContacts(ctx, tok, http.MethodPost, changes)
}

// UpdateContacts edits existing contacts and returns the ids ESI confirmed.
func (c *Client) UpdateContacts(ctx context.Context, tok *models.CharacterToken, changes []contacts.Change) ([]int64, error) {
	return c.writeContacts(ctx, tok, http.MethodPut, changes)
}

func (c *Client) writeContacts(ctx context.Context, tok *models.CharacterToken, method string, changes []contacts.Change) ([]int64, error) {
	var confirmed []int64
	for _, g := range groupChanges(changes) {
		for chunk := range slices.Chunk(g.ids, c.writeBatchSize) {
			q := url.Values{"standing": {strconv.FormatFloat(g.standing, 'f', -1, 64)}}
			if len(g.labelIDs) > 0 {
				q.Set("label_ids", joinIDs(g.labelIDs))
			}
			var ids []int64
			_, err := c.do(ctx, request{
				method: method,
				route:  "/characters/{id}/contacts/",
				path:   contactsPath(tok.CharacterID),
				query:  q,
				token:  tok.AccessToken,
				body:   chunk,
			}, &ids)
			if err != nil {
				return confirmed, err
			}
			// PUT answers 204 without a body.
			if ids == nil {
				ids = chunk
			}
			confirmed = append(confirmed, ids...)
		}
	}
	return confirmed, nil
}

// DeleteContacts removes contacts in batches.
func (c *Client) DeleteContacts(ctx context.Context, tok *models.CharacterToken, refs []models.EntityRef) (int, error) {
	ids := make([]int64, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	slices.Sort(ids)

	deleted := 0
	for chunk := range slices.Chunk(ids, c.deleteBatchSize) {
		_, err := c.do(ctx, request{
			method: http.MethodDelete,
			route:  "/characters/{id}/contacts/",
			path:   contactsPath(tok.CharacterID),
			query:  url.Values{"contact_ids": {joinIDs(chunk)}},
			token:  tok.AccessToken,
		}, nil)
		if err != nil {
			return deleted, err
		}
		deleted += len(chunk)
	}
	return deleted, nil
}

// ApplyResult summarizes the writes performed for one plan.
type ApplyResult struct {
	Added   int
	Updated int
	Deleted int
	// Unconfirmed lists requested add/update ids ESI did not acknowledge.
	Unconfirmed []int64
}

// Apply writes plan for the token's character: deletes first, then adds, then updates.
// On error the result reflects what was written before the failure.
func (c *Client) Apply(ctx context.Context, tok *models.CharacterToken, plan contacts.Plan) (ApplyResult, error) {
	var res ApplyResult
	if plan.Empty() {
		return res, nil
	}

	if len(plan.Deletes) > 0 {
		n, err := c.DeleteContacts(ctx, tok, plan.Deletes)
		res.Deleted = n
		observability.ContactChanges.WithLabelValues("delete").Add(float64(n))
		if err != nil {
			return res, err
		}
	}

	if len(plan.Adds) > 0 {
		ids, err := c.AddContacts(ctx, tok, plan.Adds)
		res.Added = len(ids)
		observability.ContactChanges.WithLabelValues("add").Add(float64(len(ids)))
		if err != nil {
			return res, err
		}
		res.Unconfirmed = append(res.Unconfirmed, unconfirmed(plan.Adds, ids)...)
	}

	if len(plan.Updates) > 0 {
		ids, err := c.UpdateContacts(ctx, tok, plan.Updates)
		res.Updated = len(ids)
		observability.ContactChanges.WithLabelValues("update").Add(float64(len(ids)))
		if err != nil {
			return res, err
		}
		res.Unconfirmed = append(res.Unconfirmed, unconfirmed(plan.Updates, ids)...)
	}
	return res, nil
}

func unconfirmed(requested []contacts.Change, confirmed []int64) []int64 {
	var out []int64
	for _, ch := range requested {
		if !slices.Contains(confirmed, ch.Ref.ID) {
			out = append(out, ch.Ref.ID)
		}
	}
	return out
}

// EntityName is one row of POST /universe/names/.
type EntityName struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// ResolveNames looks up display names for ids. Unknown ids are absent from the result.
func (c *Client) ResolveNames(ctx context.Context, ids []int64) ([]EntityName, error) {
	uniq := slices.Clone(ids)
	slices.Sort(uniq)
	uniq = slices.Compact(uniq)

	var out []EntityName
	for chunk := range slices.Chunk(uniq, namesBatchSize) {
		var batch []EntityName
		if _, err := c.do(ctx, request{
			method: http.MethodPost,
			route:  "/universe/names/",
			path:   "/universe/names/",
			body:   chunk,
		}, &batch); err != nil {
			return out, err
		}
		out = append(out, batch...)
	}
	return out, nil
}
