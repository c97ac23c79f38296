// Package storage persists per-group engine state in the JSON datastore.
package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/datastore"
	"github.com/keshon/heartflow/internal/mind"
)

const (
	groupPrefix         = "heartflow:"
	commandPrefix       = "commands:"
	commandHistoryLimit = 20
)

type Storage struct {
	ds *datastore.DataStore
}

// CommandHistoryRecord is one operator command issued in a group.
type CommandHistoryRecord struct {
	GroupID  string    `json:"group_id"`
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Command  string    `json:"command"`
	Param    string    `json:"param,omitempty"`
	Datetime time.Time `json:"datetime"`
}

type commandLog struct {
	Commands []CommandHistoryRecord `json:"cmd_history"`
}

// New opens the datastore at filePath.
func New(filePath string, log zerolog.Logger) (*Storage, error) {
	cfg := datastore.DefaultConfig(filePath)
	cfg.Logger = log
	ds, err := datastore.NewWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}
	return &Storage{ds: ds}, nil
}

func (s *Storage) Close() error {
	return s.ds.Close()
}

// Flush writes pending changes to disk now.
func (s *Storage) Flush() error {
	return s.ds.SaveToFile()
}

// LoadGroup implements mind.Persister.
func (s *Storage) LoadGroup(groupID string) (mind.GroupRecord, bool, error) {
	var rec mind.GroupRecord
	ok, err := s.ds.Decode(groupPrefix+groupID, &rec)
	if err != nil {
		return mind.GroupRecord{}, true, fmt.Errorf("decode group %s: %w", groupID, err)
	}
	if !ok {
		return mind.GroupRecord{}, false, nil
	}
	if rec.Impressions == nil {
		rec.Impressions = make(map[string]float64)
	}
	if rec.Fatigue == nil {
		rec.Fatigue = make(map[string]mind.FatigueCounter)
	}
	return rec, true, nil
}

// SaveGroup implements mind.Persister. The record is stored encoded so later
// mutation of its maps cannot leak into the datastore.
func (s *Storage) SaveGroup(groupID string, rec mind.GroupRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode group %s: %w", groupID, err)
	}
	return s.ds.Add(groupPrefix+groupID, json.RawMessage(raw))
}

// Groups implements mind.Persister.
func (s *Storage) Groups() []string {
	var ids []string
	for _, k := range s.ds.Keys() {
		if id, ok := strings.CutPrefix(k, groupPrefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// DeleteGroup forgets everything stored for a group.
func (s *Storage) DeleteGroup(groupID string) {
	s.ds.Delete(groupPrefix + groupID)
	s.ds.Delete(commandPrefix + groupID)
}

// AppendCommandToHistory appends a command history record for a group.
func (s *Storage) AppendCommandToHistory(groupID string, cmd CommandHistoryRecord) error {
	var lg commandLog
	if _, err := s.ds.Decode(commandPrefix+groupID, &lg); err != nil {
		return err
	}
	lg.Commands = append(lg.Commands, cmd)
	if len(lg.Commands) > commandHistoryLimit {
		lg.Commands = lg.Commands[len(lg.Commands)-commandHistoryLimit:]
	}
	return s.ds.Add(commandPrefix+groupID, lg)
}

func (s *Storage) FetchCommandHistory(groupID string) ([]CommandHistoryRecord, error) {
	var lg commandLog
	if _, err := s.ds.Decode(commandPrefix+groupID, &lg); err != nil {
		return nil, err
	}
	return lg.Commands, nil
}
