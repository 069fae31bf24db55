package plan

import (
	"github.com/cespare/xxhash/v2"
	"github.com/xiaobogaga/miniframe/storage"
)

// assembleJoin gathers matched row pairs into an output chunk. Index -1 in
// either side produces a null-padded row. rightIdx is nil for the join kinds
// that only return left columns.
func assembleJoin(schema *storage.TableSchema, left *storage.RecordBatch, leftIdx []int32,
	right *storage.RecordBatch, rightIdx []int32) *storage.RecordBatch {
	leftPart := left.Gather(leftIdx)
	records := leftPart.Records
	if rightIdx != nil {
		rightPart := right.Gather(rightIdx)
		records = append(records, rightPart.Records...)
	}
	ret := &storage.RecordBatch{
		Fields:  schema.Columns,
		Records: make([]*storage.ColumnVector, len(records)),
	}
	for i, col := range records {
		ret.Records[i] = renameColumn(col, schema.Columns[i])
	}
	return ret
}

// hashJoinExec hashes one side fully, then streams the other side through the
// table. The right side is the build side unless the optimizer flipped an
// inner join. A row with a null key cell never matches; it is dropped by
// inner and semi joins, padded by left and outer joins, and kept by anti
// joins.
type hashJoinExec struct {
	probe        PhysicalPlan
	build        PhysicalPlan
	kind         JoinKind
	buildLeft    bool
	probeKeyIdx  []int
	buildKeyIdx  []int
	schema       *storage.TableSchema
	ec           *ExecContext
	built        *storage.RecordBatch
	buckets      map[uint64][]int32
	matched      []bool
	probeDone    bool
	tail         *storage.RecordBatch
	tailServed   int
	done         bool
}

func newHashJoinExec(left, right PhysicalPlan, join *JoinPlan, ec *ExecContext) (*hashJoinExec, error) {
	leftIdx := make([]int, len(join.LeftKeys))
	rightIdx := make([]int, len(join.RightKeys))
	for i := range join.LeftKeys {
		leftIdx[i] = left.Schema().IndexOf(join.LeftKeys[i])
		rightIdx[i] = right.Schema().IndexOf(join.RightKeys[i])
	}
	ret := &hashJoinExec{
		kind:      join.Kind,
		buildLeft: join.BuildLeft,
		schema:    join.schema,
		ec:        ec,
	}
	if join.BuildLeft {
		ret.probe, ret.build = right, left
		ret.probeKeyIdx, ret.buildKeyIdx = rightIdx, leftIdx
	} else {
		ret.probe, ret.build = left, right
		ret.probeKeyIdx, ret.buildKeyIdx = leftIdx, rightIdx
	}
	return ret, nil
}

func (join *hashJoinExec) Schema() *storage.TableSchema {
	return join.schema
}

func (join *hashJoinExec) Next() (*storage.RecordBatch, error) {
	if join.done {
		return nil, nil
	}
	if join.built == nil {
		if err := join.buildTable(); err != nil {
			return nil, err
		}
	}
	for !join.probeDone {
		if err := join.ec.checkCancelled(); err != nil {
			return nil, err
		}
		chunk, err := join.probe.Next()
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			join.probeDone = true
			break
		}
		out := join.probeChunk(chunk)
		if out.RowCount() > 0 {
			return out, nil
		}
	}
	if join.kind == OuterJoin {
		return join.serveTail()
	}
	join.done = true
	return nil, nil
}

func (join *hashJoinExec) buildTable() error {
	all := storage.NewRecordBatch(join.build.Schema(), 0)
	for {
		if err := join.ec.checkCancelled(); err != nil {
			return err
		}
		batch, err := join.build.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		all.Append(batch)
	}
	join.built = all
	join.buckets = make(map[uint64][]int32)
	join.matched = make([]bool, all.RowCount())
	var buf []byte
	for row := 0; row < all.RowCount(); row++ {
		if rowHasNullKey(all, row, join.buildKeyIdx) {
			continue
		}
		buf = all.RowKey(buf[:0], row, join.buildKeyIdx)
		h := xxhash.Sum64(buf)
		join.buckets[h] = append(join.buckets[h], int32(row))
	}
	return nil
}

// probeChunk computes the matched (probe, build) row pairs of one chunk and
// assembles them into an output chunk.
func (join *hashJoinExec) probeChunk(chunk *storage.RecordBatch) *storage.RecordBatch {
	var probeIdx, buildIdx []int32
	var buf []byte
	for row := 0; row < chunk.RowCount(); row++ {
		if rowHasNullKey(chunk, row, join.probeKeyIdx) {
			switch join.kind {
			case LeftJoin, OuterJoin:
				probeIdx = append(probeIdx, int32(row))
				buildIdx = append(buildIdx, -1)
			case AntiJoin:
				probeIdx = append(probeIdx, int32(row))
			}
			continue
		}
		buf = chunk.RowKey(buf[:0], row, join.probeKeyIdx)
		h := xxhash.Sum64(buf)
		found := false
		for _, candidate := range join.buckets[h] {
			if !join.keysEqual(chunk, row, int(candidate)) {
				continue
			}
			found = true
			switch join.kind {
			case SemiJoin:
				probeIdx = append(probeIdx, int32(row))
			case AntiJoin:
			default:
				probeIdx = append(probeIdx, int32(row))
				buildIdx = append(buildIdx, candidate)
				join.matched[candidate] = true
			}
			if join.kind == SemiJoin {
				break
			}
		}
		if !found {
			switch join.kind {
			case LeftJoin, OuterJoin:
				probeIdx = append(probeIdx, int32(row))
				buildIdx = append(buildIdx, -1)
			case AntiJoin:
				probeIdx = append(probeIdx, int32(row))
			}
		}
	}
	if join.kind == SemiJoin || join.kind == AntiJoin {
		return assembleJoin(join.schema, chunk, probeIdx, nil, nil)
	}
	if join.buildLeft {
		return assembleJoin(join.schema, join.built, buildIdx, chunk, probeIdx)
	}
	return assembleJoin(join.schema, chunk, probeIdx, join.built, buildIdx)
}

func (join *hashJoinExec) keysEqual(probe *storage.RecordBatch, probeRow, buildRow int) bool {
	for i, p := range join.probeKeyIdx {
		if !probe.Records[p].ValueEqual(probeRow, join.built.Records[join.buildKeyIdx[i]], buildRow) {
			return false
		}
	}
	return true
}

// serveTail emits the never-matched build rows of an outer join, padded with
// nulls on the probe side.
func (join *hashJoinExec) serveTail() (*storage.RecordBatch, error) {
	if err := join.ec.checkCancelled(); err != nil {
		return nil, err
	}
	if join.tail == nil {
		var probeIdx, buildIdx []int32
		for row, m := range join.matched {
			if m {
				continue
			}
			probeIdx = append(probeIdx, -1)
			buildIdx = append(buildIdx, int32(row))
		}
		probePad := storage.NewRecordBatch(join.probe.Schema(), 0)
		join.tail = assembleJoin(join.schema, probePad, probeIdx, join.built, buildIdx)
	}
	ret := join.tail.Slice(join.tailServed, join.ec.batchSize())
	if ret == nil {
		join.done = true
		return nil, nil
	}
	join.tailServed += ret.RowCount()
	return ret, nil
}

func rowHasNullKey(batch *storage.RecordBatch, row int, keys []int) bool {
	for _, k := range keys {
		if batch.Records[k].IsNull(row) {
			return true
		}
	}
	return false
}

// crossJoinExec materializes the right side and pairs every left row with
// every right row, serving at most batch-size rows per chunk.
type crossJoinExec struct {
	left     PhysicalPlan
	right    PhysicalPlan
	schema   *storage.TableSchema
	ec       *ExecContext
	rightAll *storage.RecordBatch
	cur      *storage.RecordBatch
	row      int
	rpos     int
	done     bool
}

func newCrossJoinExec(left, right PhysicalPlan, join *JoinPlan, ec *ExecContext) *crossJoinExec {
	return &crossJoinExec{left: left, right: right, schema: join.schema, ec: ec}
}

func (join *crossJoinExec) Schema() *storage.TableSchema {
	return join.schema
}

func (join *crossJoinExec) Next() (*storage.RecordBatch, error) {
	if join.done {
		return nil, nil
	}
	if join.rightAll == nil {
		all := storage.NewRecordBatch(join.right.Schema(), 0)
		for {
			if err := join.ec.checkCancelled(); err != nil {
				return nil, err
			}
			batch, err := join.right.Next()
			if err != nil {
				return nil, err
			}
			if batch == nil {
				break
			}
			all.Append(batch)
		}
		join.rightAll = all
		if all.RowCount() == 0 {
			join.done = true
			return nil, nil
		}
	}
	for {
		if err := join.ec.checkCancelled(); err != nil {
			return nil, err
		}
		if join.cur == nil {
			chunk, err := join.left.Next()
			if err != nil {
				return nil, err
			}
			if chunk == nil {
				join.done = true
				return nil, nil
			}
			if chunk.RowCount() == 0 {
				continue
			}
			join.cur = chunk
			join.row = 0
			join.rpos = 0
		}
		n := join.rightAll.RowCount() - join.rpos
		if max := join.ec.batchSize(); n > max {
			n = max
		}
		leftIdx := make([]int32, n)
		rightIdx := make([]int32, n)
		for i := 0; i < n; i++ {
			leftIdx[i] = int32(join.row)
			rightIdx[i] = int32(join.rpos + i)
		}
		out := assembleJoin(join.schema, join.cur, leftIdx, join.rightAll, rightIdx)
		join.rpos += n
		if join.rpos >= join.rightAll.RowCount() {
			join.rpos = 0
			join.row++
			if join.row >= join.cur.RowCount() {
				join.cur = nil
			}
		}
		return out, nil
	}
}
