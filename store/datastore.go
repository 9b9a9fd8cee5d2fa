package store

import (
	"context"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"
)

// Kind names used in Datastore.
const (
	kindRule     = "ResponderRule"
	kindResponse = "ResponderResponse"
	kindChannel  = "ResponderChannel"
	kindConfig   = "ResponderConfig"
)

// GCPStore implements RuleStore and ConfigStore on a Google Cloud Platform
// Datastore.
type GCPStore struct {
	ds *datastore.Client
}

// NewGCPStore constructs a new *GCPStore.
func NewGCPStore(ds *datastore.Client) *GCPStore {
	return &GCPStore{ds: ds}
}

func (s *GCPStore) Rules(ctx context.Context, community string) ([]RuleRow, error) {
	q := datastore.NewQuery(kindRule).
		Filter("Community =", community).
		Order("__key__")

	var rows []RuleRow
	it := s.ds.Run(ctx, q)
	for {
		var row RuleRow
		key, err := it.Next(&row)
		if err == iterator.Done {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		row.ID = key.ID
		rows = append(rows, row)
	}
}

func (s *GCPStore) Responses(ctx context.Context, community string) ([]ResponseRow, error) {
	q := datastore.NewQuery(kindResponse).
		Filter("Community =", community).
		Order("__key__")

	var rows []ResponseRow
	it := s.ds.Run(ctx, q)
	for {
		var row ResponseRow
		key, err := it.Next(&row)
		if err == iterator.Done {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		row.ID = key.ID
		rows = append(rows, row)
	}
}

func (s *GCPStore) Channels(ctx context.Context, community string) ([]ChannelRow, error) {
	q := datastore.NewQuery(kindChannel).
		Filter("Community =", community).
		Order("__key__")

	var rows []ChannelRow
	it := s.ds.Run(ctx, q)
	for {
		var row ChannelRow
		key, err := it.Next(&row)
		if err == iterator.Done {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		row.ID = key.ID
		rows = append(rows, row)
	}
}

func (s *GCPStore) CreateRule(ctx context.Context, row RuleRow) (int64, error) {
	key, err := s.ds.Put(ctx, datastore.IncompleteKey(kindRule, nil), &row)
	if err != nil {
		return 0, err
	}
	return key.ID, nil
}

func (s *GCPStore) UpdateRule(ctx context.Context, row RuleRow) error {
	key := datastore.IDKey(kindRule, row.ID, nil)
	var existing RuleRow
	if err := s.ds.Get(ctx, key, &existing); err == datastore.ErrNoSuchEntity {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	_, err := s.ds.Put(ctx, key, &row)
	return err
}

func (s *GCPStore) DeleteRule(ctx context.Context, community string, ruleID int64) error {
	if err := s.ds.Delete(ctx, datastore.IDKey(kindRule, ruleID, nil)); err != nil {
		return err
	}

	// Cascade the rule's responses and channel bindings.
	for _, kind := range []string{kindResponse, kindChannel} {
		q := datastore.NewQuery(kind).
			Filter("Community =", community).
			Filter("RuleID =", ruleID).
			KeysOnly()
		keys, err := s.ds.GetAll(ctx, q, nil)
		if err != nil {
			return err
		}
		if err := s.ds.DeleteMulti(ctx, keys); err != nil {
			return err
		}
	}
	return nil
}

func (s *GCPStore) CreateResponse(ctx context.Context, row ResponseRow) (int64, error) {
	key, err := s.ds.Put(ctx, datastore.IncompleteKey(kindResponse, nil), &row)
	if err != nil {
		return 0, err
	}
	return key.ID, nil
}

func (s *GCPStore) UpdateResponse(ctx context.Context, row ResponseRow) error {
	key := datastore.IDKey(kindResponse, row.ID, nil)
	var existing ResponseRow
	if err := s.ds.Get(ctx, key, &existing); err == datastore.ErrNoSuchEntity {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	_, err := s.ds.Put(ctx, key, &row)
	return err
}

func (s *GCPStore) DeleteResponse(ctx context.Context, community string, responseID int64) error {
	key := datastore.IDKey(kindResponse, responseID, nil)
	var existing ResponseRow
	if err := s.ds.Get(ctx, key, &existing); err == datastore.ErrNoSuchEntity {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	if existing.Community != community {
		return ErrNotFound
	}
	return s.ds.Delete(ctx, key)
}

func (s *GCPStore) CreateChannel(ctx context.Context, row ChannelRow) (int64, error) {
	key, err := s.ds.Put(ctx, datastore.IncompleteKey(kindChannel, nil), &row)
	if err != nil {
		return 0, err
	}
	return key.ID, nil
}

func (s *GCPStore) DeleteChannel(ctx context.Context, community string, ruleID int64, channelID, kind string) error {
	q := datastore.NewQuery(kindChannel).
		Filter("Community =", community).
		Filter("RuleID =", ruleID)

	found := false
	it := s.ds.Run(ctx, q)
	for {
		var row ChannelRow
		key, err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}
		if row.ChannelID != channelID || row.Kind != kind {
			continue
		}
		if err := s.ds.Delete(ctx, key); err != nil {
			return err
		}
		found = true
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (s *GCPStore) DeleteCommunity(ctx context.Context, community string) error {
	for _, kind := range []string{kindRule, kindResponse, kindChannel} {
		q := datastore.NewQuery(kind).
			Filter("Community =", community).
			KeysOnly()
		keys, err := s.ds.GetAll(ctx, q, nil)
		if err != nil {
			return err
		}
		if err := s.ds.DeleteMulti(ctx, keys); err != nil {
			return err
		}
	}
	return nil
}

type configEntity struct {
	Value []byte `datastore:"Value,noindex"`
}

func (s *GCPStore) Get(ctx context.Context, key string) ([]byte, error) {
	var ent configEntity
	err := s.ds.Get(ctx, datastore.NameKey(kindConfig, key, nil), &ent)
	if err == datastore.ErrNoSuchEntity {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ent.Value, nil
}

func (s *GCPStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.ds.Put(ctx, datastore.NameKey(kindConfig, key, nil), &configEntity{Value: value})
	return err
}

func (s *GCPStore) Delete(ctx context.Context, key string) error {
	err := s.ds.Delete(ctx, datastore.NameKey(kindConfig, key, nil))
	if err == datastore.ErrNoSuchEntity {
		return nil
	}
	return err
}

func (s *GCPStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	// Name keys sort lexically, so a prefix is a key range.
	q := datastore.NewQuery(kindConfig).
		Filter("__key__ >=", datastore.NameKey(kindConfig, prefix, nil)).
		Filter("__key__ <", datastore.NameKey(kindConfig, prefix+"\xff", nil)).
		KeysOnly()

	keys, err := s.ds.GetAll(ctx, q, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, key.Name)
	}
	return names, nil
}
