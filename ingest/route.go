package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/pithecene-io/zotel/envelope"
	"github.com/pithecene-io/zotel/storage"
	"github.com/pithecene-io/zotel/types"
)

// Mode selects the storage operation for a write.
type Mode string

const (
	// ModeInsert fails when the id already exists.
	ModeInsert Mode = "insert"
	// ModeUpsert replaces any existing record.
	ModeUpsert Mode = "upsert"
)

// PartitionWrite is one record destined for one partition.
type PartitionWrite struct {
	Partition storage.Partition
	Mode      Mode
	ID        string
	Document  string
	Metadata  storage.Metadata
	// Primary marks the events-log write whose failure fails the ingestion.
	Primary bool
}

func (w PartitionWrite) record() storage.Record {
	return storage.Record{ID: w.ID, Document: w.Document, Metadata: w.Metadata}
}

// Route derives every write for env. The primary events write is always
// first; the rest follow in partition order (embeddings, artifacts,
// agent_state). Route performs no I/O.
func Route(env *types.EventEnvelope) ([]PartitionWrite, error) {
	doc, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("route: encode envelope %s: %w", env.EventID, err)
	}
	meta := eventMetadata(env)

	writes := []PartitionWrite{{
		Partition: storage.PartitionEvents,
		Mode:      ModeInsert,
		ID:        env.EventID,
		Document:  string(doc),
		Metadata:  meta,
		Primary:   true,
	}}

	if env.EventType.IsSemantic() && env.IndexableText != "" {
		writes = append(writes, PartitionWrite{
			Partition: storage.PartitionEmbeddings,
			Mode:      ModeInsert,
			ID:        env.EventID + "_emb",
			Document:  env.IndexableText,
			Metadata:  storage.CloneMetadata(meta),
		})
	}

	if env.EventType == types.EventTypeArtifact {
		for i, ref := range env.ArtifactRefs {
			w, err := artifactWrite(env, i, ref)
			if err != nil {
				return nil, err
			}
			writes = append(writes, w)
		}
	}

	if env.EventType.TracksAgentState() && env.WorkerID != "" {
		state := env.AgentState()
		stateDoc, err := json.Marshal(state)
		if err != nil {
			return nil, fmt.Errorf("route: encode agent state: %w", err)
		}
		writes = append(writes, PartitionWrite{
			Partition: storage.PartitionAgentState,
			Mode:      ModeUpsert,
			ID:        state.RunID + "_" + state.WorkerID,
			Document:  string(stateDoc),
			Metadata: storage.Metadata{
				"run_id":         state.RunID,
				"worker_id":      state.WorkerID,
				"task_id":        state.TaskID,
				"last_heartbeat": state.LastHeartbeat,
			},
		})
	}
	return writes, nil
}

// eventMetadata is the flat metadata shared by the events and embeddings
// partitions. Absent optionals are empty strings so filters can match them.
func eventMetadata(env *types.EventEnvelope) storage.Metadata {
	return storage.Metadata{
		"event_id":   env.EventID,
		"ts":         env.Ts,
		"event_type": string(env.EventType),
		"level":      string(env.Level),
		"run_id":     env.RunID,
		"session_id": env.SessionID,
		"worker_id":  env.WorkerID,
		"task_id":    env.TaskID,
		"tool_name":  env.ToolName,
		"hash":       env.Hash,
	}
}

// artifactWrite catalogs one ref. Refs with a real content hash share a
// record across events; unhashed refs get a per-event id.
func artifactWrite(env *types.EventEnvelope, idx int, ref types.ArtifactRef) (PartitionWrite, error) {
	doc, err := json.Marshal(ref)
	if err != nil {
		return PartitionWrite{}, fmt.Errorf("route: encode artifact ref: %w", err)
	}
	id := ref.Hash
	if id == "" || id == envelope.UnknownArtifactHash {
		id = fmt.Sprintf("%s_artifact_%d", env.EventID, idx)
	}
	return PartitionWrite{
		Partition: storage.PartitionArtifacts,
		Mode:      ModeUpsert,
		ID:        id,
		Document:  string(doc),
		Metadata: storage.Metadata{
			"hash":       ref.Hash,
			"path":       ref.Path,
			"type":       ref.Type,
			"size_bytes": ref.SizeBytes,
			"run_id":     env.RunID,
			"event_id":   env.EventID,
		},
	}, nil
}
