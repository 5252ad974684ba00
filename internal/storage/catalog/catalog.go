package catalog

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/RamonZhou/MiniSQL/internal/storage/buffer"
	"github.com/RamonZhou/MiniSQL/internal/storage/index"
	"github.com/RamonZhou/MiniSQL/internal/storage/page"
	"github.com/RamonZhou/MiniSQL/internal/storage/tableheap"
	"github.com/RamonZhou/MiniSQL/internal/txn"
)

// TableInfo bundles a table's persisted metadata with its live heap.
type TableInfo struct {
	Meta TableMetadata
	Heap *tableheap.TableHeap
}

// IndexInfo bundles an index's persisted metadata with its live B+ tree
// and the key projection derived from the covered table's schema.
type IndexInfo struct {
	Meta     IndexMetadata
	Table    *TableInfo
	Tree     *index.BPlusTree
	KeyWidth int
}

// EncodeRowKey projects row's key columns, in key order, into the
// index's fixed-width comparable key.
func (ii *IndexInfo) EncodeRowKey(row page.Row) index.Key {
	fields := make([]page.Field, len(ii.Meta.KeyColumns))
	for i, c := range ii.Meta.KeyColumns {
		fields[i] = row.Fields[c]
	}
	return index.EncodeFields(fields, ii.KeyWidth)
}

// InsertEntry adds (row's key, rid) to the index; ErrDuplicateKey if the
// key is already present.
func (ii *IndexInfo) InsertEntry(row page.Row, rid page.RowID, _ txn.Handle) error {
	ok, err := ii.Tree.Insert(ii.EncodeRowKey(row), rid)
	if err != nil {
		return newErr(Failed, fmt.Sprintf("index %q insert", ii.Meta.Name), err)
	}
	if !ok {
		return newErr(DuplicateKey, fmt.Sprintf("index %q", ii.Meta.Name), nil)
	}
	return nil
}

// RemoveEntry drops row's key from the index; missing keys are ignored
// so rollback paths can call it unconditionally.
func (ii *IndexInfo) RemoveEntry(row page.Row, _ txn.Handle) error {
	err := ii.Tree.Remove(ii.EncodeRowKey(row))
	if err != nil && !errors.Is(err, index.ErrKeyNotFound) {
		return newErr(Failed, fmt.Sprintf("index %q remove", ii.Meta.Name), err)
	}
	return nil
}

// Catalog persists table and index metadata and hands out live
// TableInfo/IndexInfo handles to the executor. All metadata lives on
// pages reached through the buffer pool: the fixed catalog meta page
// maps object ids to per-object metadata pages.
type Catalog struct {
	mu sync.RWMutex

	pool *buffer.PoolManager
	lock *txn.Manager

	meta        CatalogMeta
	tables      map[int32]*TableInfo
	tableNames  map[string]int32
	indexes     map[int32]*IndexInfo
	indexNames  map[string]map[string]int32 // table name -> index name -> index id
	nextTableID int32
	nextIndexID int32
}

// NewCatalog opens the catalog over pool. With init true it writes a
// fresh empty catalog meta page (database-create time); otherwise it
// deserializes the meta page and reloads every table and index.
func NewCatalog(pool *buffer.PoolManager, lock *txn.Manager, init bool) (*Catalog, error) {
	c := &Catalog{
		pool:       pool,
		lock:       lock,
		meta:       NewCatalogMeta(),
		tables:     make(map[int32]*TableInfo),
		tableNames: make(map[string]int32),
		indexes:    make(map[int32]*IndexInfo),
		indexNames: make(map[string]map[string]int32),
	}
	if init {
		if err := c.FlushCatalogMetaPage(); err != nil {
			return nil, err
		}
		return c, nil
	}

	frame, err := pool.FetchPage(page.CatalogMetaPageID)
	if err != nil {
		return nil, newErr(Failed, "fetch catalog meta page", err)
	}
	if frame == nil {
		return nil, newErr(Failed, "catalog meta page: buffer pool exhausted", nil)
	}
	meta, n := UnmarshalCatalogMeta(frame.Data)
	pool.UnpinPage(page.CatalogMetaPageID, false)
	if n == 0 {
		return nil, newErr(Failed, "catalog meta page is corrupt", nil)
	}
	c.meta = meta

	var tableMaxID int32 = -1
	for id, metaPageID := range meta.Tables {
		if err := c.loadTable(id, metaPageID); err != nil {
			return nil, err
		}
		if id > tableMaxID {
			tableMaxID = id
		}
	}
	c.nextTableID = tableMaxID + 1

	var indexMaxID int32 = -1
	for id, metaPageID := range meta.Indexes {
		if err := c.loadIndex(id, metaPageID); err != nil {
			return nil, err
		}
		if id > indexMaxID {
			indexMaxID = id
		}
	}
	c.nextIndexID = indexMaxID + 1
	return c, nil
}

// legacyNextIndexID computes the next index id the way earlier releases
// of this engine did on reload: the candidate per reloaded index was
// clamped against the TABLE id high-water mark instead of the index's
// own, so databases whose index ids outran their table ids could mint a
// colliding id. Kept (and tested) as a reference for files written by
// those releases; the live path above tracks index ids independently.
func legacyNextIndexID(indexIDs []int32, tableMaxID int32) int32 {
	var indexMaxID int32
	for _, id := range indexIDs {
		if id > tableMaxID {
			indexMaxID = id
		} else {
			indexMaxID = tableMaxID
		}
	}
	return indexMaxID + 1
}

func (c *Catalog) loadTable(id int32, metaPageID page.PageID) error {
	frame, err := c.pool.FetchPage(metaPageID)
	if err != nil {
		return newErr(Failed, fmt.Sprintf("fetch table %d meta page", id), err)
	}
	if frame == nil {
		return newErr(Failed, "table meta page: buffer pool exhausted", nil)
	}
	meta, n := UnmarshalTableMetadata(frame.Data)
	c.pool.UnpinPage(metaPageID, false)
	if n == 0 || meta.ID != id {
		return newErr(Failed, fmt.Sprintf("table %d meta page is corrupt", id), nil)
	}
	info := &TableInfo{
		Meta: meta,
		Heap: tableheap.OpenTableHeap(c.pool, meta.Schema, meta.FirstPageID),
	}
	c.tables[id] = info
	c.tableNames[meta.Name] = id
	return nil
}

func (c *Catalog) loadIndex(id int32, metaPageID page.PageID) error {
	frame, err := c.pool.FetchPage(metaPageID)
	if err != nil {
		return newErr(Failed, fmt.Sprintf("fetch index %d meta page", id), err)
	}
	if frame == nil {
		return newErr(Failed, "index meta page: buffer pool exhausted", nil)
	}
	meta, n := UnmarshalIndexMetadata(frame.Data)
	c.pool.UnpinPage(metaPageID, false)
	if n == 0 || meta.ID != id {
		return newErr(Failed, fmt.Sprintf("index %d meta page is corrupt", id), nil)
	}
	table, ok := c.tables[meta.TableID]
	if !ok {
		return newErr(Failed, fmt.Sprintf("index %q covers unknown table %d", meta.Name, meta.TableID), nil)
	}
	width, err := keyWidthFor(table.Meta.Schema, meta.KeyColumns)
	if err != nil {
		return err
	}
	tree, err := index.OpenBPlusTree(c.pool, index.Config{
		IndexID:         id,
		KeyWidth:        width,
		LeafMaxSize:     index.MaxLeafSize(width),
		InternalMaxSize: index.MaxInternalSize(width),
	})
	if err != nil {
		return newErr(Failed, fmt.Sprintf("open tree for index %q", meta.Name), err)
	}
	info := &IndexInfo{Meta: meta, Table: table, Tree: tree, KeyWidth: width}
	c.indexes[id] = info
	byName := c.indexNames[table.Meta.Name]
	if byName == nil {
		byName = make(map[string]int32)
		c.indexNames[table.Meta.Name] = byName
	}
	byName[meta.Name] = id
	return nil
}

// keyWidthFor sums the serialized widths of the key columns and picks
// the smallest supported fixed key width that holds them.
func keyWidthFor(s page.Schema, keyColumns []uint32) (int, error) {
	combined := 0
	for _, kc := range keyColumns {
		col := s.Columns[kc]
		switch col.Type {
		case page.TypeInt, page.TypeFloat:
			combined += 4
		case page.TypeChar:
			combined += col.Length
		default:
			return 0, newErr(Failed, fmt.Sprintf("column %q has unindexable type", col.Name), nil)
		}
	}
	maxWidth := index.KeyWidths[len(index.KeyWidths)-1]
	if combined > maxWidth {
		return 0, newErr(Failed, fmt.Sprintf("combined key width %d exceeds %d bytes", combined, maxWidth), nil)
	}
	return index.ChooseKeyWidth(combined), nil
}

// writeMetaObject allocates a fresh page and serializes one metadata
// object into it via its Marshal method.
func (c *Catalog) writeMetaObject(marshal func([]byte) []byte, size int) (page.PageID, error) {
	if size > page.Size {
		return page.InvalidID, newErr(Failed, fmt.Sprintf("metadata of %d bytes exceeds one page", size), nil)
	}
	frame, id, err := c.pool.NewPage()
	if err != nil {
		return page.InvalidID, newErr(Failed, "allocate metadata page", err)
	}
	if frame == nil {
		return page.InvalidID, newErr(Failed, "metadata page: buffer pool exhausted", nil)
	}
	out := marshal(frame.Data[:0])
	for i := len(out); i < page.Size; i++ {
		frame.Data[i] = 0
	}
	c.pool.UnpinPage(id, true)
	return id, nil
}

// CreateTable creates a table heap and persists its metadata, returning
// the live TableInfo. ErrTableAlreadyExist if name is taken.
func (c *Catalog) CreateTable(name string, schema page.Schema, _ txn.Handle) (*TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tableNames[name]; ok {
		return nil, newErr(TableAlreadyExist, name, nil)
	}

	heap, err := tableheap.NewTableHeap(c.pool, schema)
	if err != nil {
		return nil, newErr(Failed, fmt.Sprintf("create heap for table %q", name), err)
	}
	meta := TableMetadata{
		ID:          c.nextTableID,
		Name:        name,
		Schema:      schema,
		FirstPageID: heap.FirstPageID(),
	}
	metaPageID, err := c.writeMetaObject(meta.Marshal, meta.SerializedSize())
	if err != nil {
		return nil, err
	}

	info := &TableInfo{Meta: meta, Heap: heap}
	c.meta.Tables[meta.ID] = metaPageID
	c.tables[meta.ID] = info
	c.tableNames[name] = meta.ID
	c.nextTableID++
	if err := c.flushCatalogMetaPageLocked(); err != nil {
		return nil, err
	}
	return info, nil
}

// InstanceID reports the database instance id minted when the catalog
// was first created.
func (c *Catalog) InstanceID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta.InstanceID
}

// GetTable returns the live TableInfo for name, or ErrTableNotExist.
func (c *Catalog) GetTable(name string) (*TableInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getTableLocked(name)
}

func (c *Catalog) getTableLocked(name string) (*TableInfo, error) {
	id, ok := c.tableNames[name]
	if !ok {
		return nil, newErr(TableNotExist, name, nil)
	}
	return c.tables[id], nil
}

// GetTables returns every table's live info, in no particular order.
func (c *Catalog) GetTables() []*TableInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*TableInfo, 0, len(c.tables))
	for _, info := range c.tables {
		out = append(out, info)
	}
	return out
}

// DropTable removes a table, its metadata page, and every index built
// over it.
func (c *Catalog) DropTable(name string, _ txn.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.tableNames[name]
	if !ok {
		return newErr(TableNotExist, name, nil)
	}
	for indexName := range c.indexNames[name] {
		if err := c.dropIndexLocked(name, indexName); err != nil {
			return err
		}
	}
	delete(c.indexNames, name)

	metaPageID := c.meta.Tables[id]
	if _, err := c.pool.DeletePage(metaPageID); err != nil {
		return newErr(Failed, fmt.Sprintf("delete table %q meta page", name), err)
	}
	delete(c.meta.Tables, id)
	delete(c.tables, id)
	delete(c.tableNames, name)
	return c.flushCatalogMetaPageLocked()
}

// CreateIndex builds a new B+ tree over tableName's keyColumns and
// backfills it from the existing rows. A duplicate key among existing
// rows aborts the build: the partial index is dropped and
// ErrDuplicateKey returned.
func (c *Catalog) CreateIndex(tableName, indexName string, keyColumns []string, h txn.Handle) (*IndexInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	table, err := c.getTableLocked(tableName)
	if err != nil {
		return nil, err
	}
	if _, ok := c.indexNames[tableName][indexName]; ok {
		return nil, newErr(IndexAlreadyExist, indexName, nil)
	}

	keyMap := make([]uint32, len(keyColumns))
	for i, colName := range keyColumns {
		idx := table.Meta.Schema.ColumnIndex(colName)
		if idx < 0 {
			return nil, newErr(ColumnNameNotExist, colName, nil)
		}
		keyMap[i] = uint32(idx)
	}
	width, err := keyWidthFor(table.Meta.Schema, keyMap)
	if err != nil {
		return nil, err
	}

	meta := IndexMetadata{
		ID:         c.nextIndexID,
		Name:       indexName,
		TableID:    table.Meta.ID,
		KeyColumns: keyMap,
	}
	tree, err := index.OpenBPlusTree(c.pool, index.Config{
		IndexID:         meta.ID,
		KeyWidth:        width,
		LeafMaxSize:     index.MaxLeafSize(width),
		InternalMaxSize: index.MaxInternalSize(width),
	})
	if err != nil {
		return nil, newErr(Failed, fmt.Sprintf("open tree for index %q", indexName), err)
	}
	metaPageID, err := c.writeMetaObject(meta.Marshal, meta.SerializedSize())
	if err != nil {
		return nil, err
	}

	info := &IndexInfo{Meta: meta, Table: table, Tree: tree, KeyWidth: width}
	c.meta.Indexes[meta.ID] = metaPageID
	c.indexes[meta.ID] = info
	byName := c.indexNames[tableName]
	if byName == nil {
		byName = make(map[string]int32)
		c.indexNames[tableName] = byName
	}
	byName[indexName] = meta.ID
	c.nextIndexID++

	if err := c.backfillIndex(info, h); err != nil {
		log.Printf("catalog: index %q build on %q aborted, dropping partial index: %v", indexName, tableName, err)
		if dropErr := c.dropIndexLocked(tableName, indexName); dropErr != nil {
			return nil, dropErr
		}
		return nil, err
	}
	if err := c.flushCatalogMetaPageLocked(); err != nil {
		return nil, err
	}
	return info, nil
}

// backfillIndex inserts one entry per live row of the covered table.
func (c *Catalog) backfillIndex(info *IndexInfo, h txn.Handle) error {
	it, err := info.Table.Heap.Begin()
	if err != nil {
		return newErr(Failed, "scan table for index build", err)
	}
	for it.Valid() {
		row, err := it.Row()
		if err != nil {
			return newErr(Failed, "read row during index build", err)
		}
		if err := info.InsertEntry(row, it.RowID(), h); err != nil {
			return err
		}
		if err := it.Next(); err != nil {
			return newErr(Failed, "advance scan during index build", err)
		}
	}
	return nil
}

// GetIndex returns the live IndexInfo for (tableName, indexName).
func (c *Catalog) GetIndex(tableName, indexName string) (*IndexInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.tableNames[tableName]; !ok {
		return nil, newErr(TableNotExist, tableName, nil)
	}
	id, ok := c.indexNames[tableName][indexName]
	if !ok {
		return nil, newErr(IndexNotFound, indexName, nil)
	}
	return c.indexes[id], nil
}

// GetTableIndexes returns every index built over tableName.
func (c *Catalog) GetTableIndexes(tableName string) ([]*IndexInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.tableNames[tableName]; !ok {
		return nil, newErr(TableNotExist, tableName, nil)
	}
	var out []*IndexInfo
	for _, id := range c.indexNames[tableName] {
		out = append(out, c.indexes[id])
	}
	return out, nil
}

// DropIndex destroys the index's tree, removes its metadata page, and
// unregisters it.
func (c *Catalog) DropIndex(tableName, indexName string, _ txn.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.dropIndexLocked(tableName, indexName); err != nil {
		return err
	}
	return c.flushCatalogMetaPageLocked()
}

func (c *Catalog) dropIndexLocked(tableName, indexName string) error {
	id, ok := c.indexNames[tableName][indexName]
	if !ok {
		return newErr(IndexNotFound, indexName, nil)
	}
	info := c.indexes[id]
	if err := info.Tree.Destroy(); err != nil {
		return newErr(Failed, fmt.Sprintf("destroy tree for index %q", indexName), err)
	}
	metaPageID := c.meta.Indexes[id]
	if _, err := c.pool.DeletePage(metaPageID); err != nil {
		return newErr(Failed, fmt.Sprintf("delete index %q meta page", indexName), err)
	}
	delete(c.meta.Indexes, id)
	delete(c.indexes, id)
	delete(c.indexNames[tableName], indexName)
	return nil
}

// InsertRow inserts row into table's heap and maintains every index
// over it. A duplicate key in any index rolls the whole insert back:
// entries already added are removed and the heap insert is undone via
// MarkDelete then ApplyDelete.
func (c *Catalog) InsertRow(table *TableInfo, row page.Row, h txn.Handle) (page.RowID, error) {
	c.mu.RLock()
	indexes := make([]*IndexInfo, 0, 4)
	for _, id := range c.indexNames[table.Meta.Name] {
		indexes = append(indexes, c.indexes[id])
	}
	c.mu.RUnlock()

	rid, err := table.Heap.Insert(row, h)
	if err != nil {
		return page.InvalidRowID, newErr(Failed, fmt.Sprintf("insert into %q", table.Meta.Name), err)
	}
	for i, info := range indexes {
		if err := info.InsertEntry(row, rid, h); err != nil {
			for _, done := range indexes[:i] {
				if rbErr := done.RemoveEntry(row, h); rbErr != nil {
					log.Printf("catalog: rollback of index %q entry failed: %v", done.Meta.Name, rbErr)
				}
			}
			if rbErr := table.Heap.MarkDelete(rid, h); rbErr == nil {
				if rbErr = table.Heap.ApplyDelete(rid, h); rbErr != nil {
					log.Printf("catalog: rollback delete of %s failed: %v", rid, rbErr)
				}
			} else {
				log.Printf("catalog: rollback mark of %s failed: %v", rid, rbErr)
			}
			return page.InvalidRowID, err
		}
	}
	return rid, nil
}

// DeleteRow removes rid from table's heap and every index over it.
func (c *Catalog) DeleteRow(table *TableInfo, rid page.RowID, h txn.Handle) error {
	row, ok, err := table.Heap.Get(rid, h)
	if err != nil {
		return newErr(Failed, fmt.Sprintf("read %s for delete", rid), err)
	}
	if !ok {
		return newErr(KeyNotFound, rid.String(), nil)
	}
	c.mu.RLock()
	indexes := make([]*IndexInfo, 0, 4)
	for _, id := range c.indexNames[table.Meta.Name] {
		indexes = append(indexes, c.indexes[id])
	}
	c.mu.RUnlock()
	for _, info := range indexes {
		if err := info.RemoveEntry(row, h); err != nil {
			return err
		}
	}
	if err := table.Heap.MarkDelete(rid, h); err != nil {
		return newErr(Failed, fmt.Sprintf("mark delete %s", rid), err)
	}
	if err := table.Heap.ApplyDelete(rid, h); err != nil {
		return newErr(Failed, fmt.Sprintf("apply delete %s", rid), err)
	}
	return nil
}

// FlushCatalogMetaPage serializes the catalog meta into its fixed page
// and flushes it through to disk.
func (c *Catalog) FlushCatalogMetaPage() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushCatalogMetaPageLocked()
}

func (c *Catalog) flushCatalogMetaPageLocked() error {
	if size := c.meta.SerializedSize(); size > page.Size {
		return newErr(Failed, fmt.Sprintf("catalog meta of %d bytes exceeds one page", size), nil)
	}
	frame, err := c.pool.FetchPage(page.CatalogMetaPageID)
	if err != nil {
		return newErr(Failed, "fetch catalog meta page", err)
	}
	if frame == nil {
		return newErr(Failed, "catalog meta page: buffer pool exhausted", nil)
	}
	out := c.meta.Marshal(frame.Data[:0])
	for i := len(out); i < page.Size; i++ {
		frame.Data[i] = 0
	}
	c.pool.UnpinPage(page.CatalogMetaPageID, true)
	if _, err := c.pool.FlushPage(page.CatalogMetaPageID); err != nil {
		return newErr(Failed, "flush catalog meta page", err)
	}
	return nil
}
