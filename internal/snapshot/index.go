package snapshot

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/mcp-replace-server/internal/domain"
)

// IndexDirName is the directory of the lookup index inside the snapshots directory.
const IndexDirName = ".index.bleve"

// Index is a metadata index over snapshot files. It answers "which snapshots
// exist for this entry" without reading every snapshot from disk.
type Index struct {
	index bleve.Index
	path  string
}

// CreateIndexMapping creates the Bleve index mapping for snapshot documents.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	// Content type and entry - keyword (exact match), stored
	ctField := bleve.NewTextFieldMapping()
	ctField.Analyzer = keyword.Name
	ctField.Store = true
	docMapping.AddFieldMappingsAt(domain.SnapshotFieldContentType, ctField)

	entryField := bleve.NewTextFieldMapping()
	entryField.Analyzer = keyword.Name
	entryField.Store = true
	docMapping.AddFieldMappingsAt(domain.SnapshotFieldEntry, entryField)

	// CreatedAt - datetime, used for ordering and age queries
	createdField := bleve.NewDateTimeFieldMapping()
	createdField.Store = true
	docMapping.AddFieldMappingsAt(domain.SnapshotFieldCreatedAt, createdField)

	// ID - stored but not indexed (we use the document ID)
	idField := bleve.NewTextFieldMapping()
	idField.Index = false
	idField.Store = true
	docMapping.AddFieldMappingsAt(domain.SnapshotFieldID, idField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = keyword.Name

	return indexMapping
}

// OpenIndex opens the index at path, creating it if it does not exist.
func OpenIndex(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return &Index{index: idx, path: path}, nil
	}

	if _, statErr := os.Stat(path); statErr == nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	idx, err = bleve.New(path, CreateIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &Index{index: idx, path: path}, nil
}

// Add indexes the metadata of a snapshot.
func (i *Index) Add(doc domain.SnapshotDocument) error {
	return i.index.Index(doc.ID, doc)
}

// Delete removes snapshots from the index.
func (i *Index) Delete(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := i.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return i.index.Batch(batch)
}

// Search returns snapshot ids for an entry, newest first. An empty
// contentTypeUID or entryUID matches any value. limit <= 0 means no limit.
func (i *Index) Search(contentTypeUID, entryUID string, limit int) ([]string, error) {
	var conjuncts []query.Query
	if contentTypeUID != "" {
		q := bleve.NewTermQuery(contentTypeUID)
		q.SetField(domain.SnapshotFieldContentType)
		conjuncts = append(conjuncts, q)
	}
	if entryUID != "" {
		q := bleve.NewTermQuery(entryUID)
		q.SetField(domain.SnapshotFieldEntry)
		conjuncts = append(conjuncts, q)
	}

	var q query.Query = bleve.NewMatchAllQuery()
	if len(conjuncts) > 0 {
		q = bleve.NewConjunctionQuery(conjuncts...)
	}

	size := limit
	if size <= 0 {
		count, err := i.index.DocCount()
		if err != nil {
			return nil, fmt.Errorf("failed to count snapshots: %w", err)
		}
		size = int(count)
	}
	if size == 0 {
		return []string{}, nil
	}

	req := bleve.NewSearchRequestOptions(q, size, 0, false)
	req.SortBy([]string{"-" + domain.SnapshotFieldCreatedAt, "-_id"})

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot search failed: %w", err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// DocCount returns the number of indexed snapshots.
func (i *Index) DocCount() (uint64, error) {
	return i.index.DocCount()
}

// Path returns the on-disk location of the index.
func (i *Index) Path() string {
	return i.path
}

// Close closes the underlying index.
func (i *Index) Close() error {
	return i.index.Close()
}
