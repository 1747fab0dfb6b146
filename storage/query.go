package storage

import "github.com/pithecene-io/zotel/storage/rank"

// RankRecords orders already filtered records by relevance to text and
// sets their Distance. Records sharing no token with text are dropped.
func RankRecords(text string, recs []Record, limit int) []Record {
	docs := make([]rank.Document, len(recs))
	byID := make(map[string]Record, len(recs))
	for i, r := range recs {
		docs[i] = rank.Document{ID: r.ID, Text: r.Document}
		byID[r.ID] = r
	}

	hits := rank.Rank(text, docs, limit)
	out := make([]Record, 0, len(hits))
	for _, h := range hits {
		r := byID[h.ID]
		r.Distance = rank.Distance(h.Score)
		out = append(out, r)
	}
	return out
}

// CheckQueryable returns ErrUnsupported for partitions without ranking.
func CheckQueryable(p Partition) error {
	if p != PartitionEmbeddings {
		return ErrUnsupported
	}
	return nil
}
