package hdb

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/portfoliomap/tick/internal/schema"
)

// ErrPartitionExists is returned when the target date directory is already
// published. An existing partition is never touched.
var ErrPartitionExists = errors.New("hdb partition already exists")

const symFileName = "sym"

// PartitionExists reports whether a published partition directory for the
// date is present under root.
func PartitionExists(root, date string) bool {
	info, err := os.Stat(filepath.Join(root, date))
	return err == nil && info.IsDir()
}

// WritePartition publishes one day of tables under root/date. All column
// files are staged into a temp directory and fsynced first, then a single
// rename makes the partition visible. Readers never observe a half-written
// day.
func WritePartition(root, date string, tables map[schema.Kind][]schema.Row, syms []string) error {
	if PartitionExists(root, date) {
		return errors.Wrap(ErrPartitionExists, date)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.Wrap(err, "create hdb root")
	}

	stage, err := os.MkdirTemp(root, ".stage-"+date+"-")
	if err != nil {
		return errors.Wrap(err, "create staging dir")
	}
	defer func() {
		if stage != "" {
			if rmErr := os.RemoveAll(stage); rmErr != nil {
				logs.Warnf("hdb: remove staging dir %s: %v", stage, rmErr)
			}
		}
	}()

	for _, kind := range schema.Kinds() {
		if err := writeTableDir(stage, kind, tables[kind]); err != nil {
			return errors.Wrapf(err, "stage table %s", kind)
		}
	}
	if err := writeSymFile(filepath.Join(stage, symFileName), syms); err != nil {
		return errors.Wrap(err, "stage sym file")
	}
	if err := syncDir(stage); err != nil {
		return errors.Wrap(err, "sync staging dir")
	}

	target := filepath.Join(root, date)
	if err := os.Rename(stage, target); err != nil {
		if PartitionExists(root, date) {
			return errors.Wrap(ErrPartitionExists, date)
		}
		return errors.Wrapf(err, "publish partition %s", date)
	}
	stage = ""

	if err := syncDir(root); err != nil {
		return errors.Wrap(err, "sync hdb root")
	}
	return nil
}

func writeTableDir(stage string, kind schema.Kind, rows []schema.Row) error {
	dir := filepath.Join(stage, kind.String())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return err
	}
	cols, err := columnsFor(kind, rows)
	if err != nil {
		return err
	}
	specs := kind.Columns()
	for i, spec := range specs {
		if err := writeColumnFile(filepath.Join(dir, spec.Name), cols[i]); err != nil {
			return errors.Wrapf(err, "column %s", spec.Name)
		}
	}
	return syncDir(dir)
}

func writeSymFile(path string, syms []string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	buf := bufio.NewWriter(file)
	for _, s := range syms {
		if _, err := buf.WriteString(s + "\n"); err != nil {
			_ = file.Close()
			return err
		}
	}
	if err := buf.Flush(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}

// ReadTable loads one table of a published partition back into rows.
func ReadTable(root, date string, kind schema.Kind) ([]schema.Row, error) {
	dir := filepath.Join(root, date, kind.String())
	specs := kind.Columns()
	cols := make([]*column, len(specs))
	for i, spec := range specs {
		col, err := readColumnFile(filepath.Join(dir, spec.Name), spec.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "read column %s/%s", kind, spec.Name)
		}
		cols[i] = col
	}
	return rowsFrom(kind, cols)
}

// ReadSymbols loads the partition's symbol universe.
func ReadSymbols(root, date string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(root, date, symFileName))
	if err != nil {
		return nil, errors.Wrap(err, "read sym file")
	}
	var syms []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			syms = append(syms, line)
		}
	}
	return syms, nil
}

func columnsFor(kind schema.Kind, rows []schema.Row) ([]*column, error) {
	specs := kind.Columns()
	cols := make([]*column, len(specs))
	for i, spec := range specs {
		cols[i] = newColumn(spec.Type)
	}

	switch kind {
	case schema.KindTrade:
		for _, row := range rows {
			t, ok := row.(schema.Trade)
			if !ok {
				return nil, errors.Errorf("row %T in %s table", row, kind)
			}
			cols[0].times = append(cols[0].times, t.Time.UTC().UnixNano())
			cols[1].syms = append(cols[1].syms, t.Sym)
			cols[2].syms = append(cols[2].syms, t.Exchange)
			cols[3].floats = append(cols[3].floats, t.Price)
			cols[4].ints = append(cols[4].ints, t.Size)
			cols[5].syms = append(cols[5].syms, t.Condition)
		}
	case schema.KindQuote:
		for _, row := range rows {
			q, ok := row.(schema.Quote)
			if !ok {
				return nil, errors.Errorf("row %T in %s table", row, kind)
			}
			cols[0].times = append(cols[0].times, q.Time.UTC().UnixNano())
			cols[1].syms = append(cols[1].syms, q.Sym)
			cols[2].floats = append(cols[2].floats, q.Bid)
			cols[3].ints = append(cols[3].ints, q.BidSize)
			cols[4].floats = append(cols[4].floats, q.Ask)
			cols[5].ints = append(cols[5].ints, q.AskSize)
			cols[6].syms = append(cols[6].syms, q.Source)
		}
	case schema.KindOrder:
		for _, row := range rows {
			o, ok := row.(schema.Order)
			if !ok {
				return nil, errors.Errorf("row %T in %s table", row, kind)
			}
			cols[0].times = append(cols[0].times, o.Time.UTC().UnixNano())
			cols[1].syms = append(cols[1].syms, o.Sym)
			cols[2].syms = append(cols[2].syms, o.ID)
			cols[3].syms = append(cols[3].syms, o.Side)
			cols[4].syms = append(cols[4].syms, o.Status)
			cols[5].ints = append(cols[5].ints, o.FilledQty)
			cols[6].ints = append(cols[6].ints, o.RemainingQty)
			cols[7].floats = append(cols[7].floats, o.LimitPrice)
		}
	case schema.KindPosition:
		for _, row := range rows {
			p, ok := row.(schema.Position)
			if !ok {
				return nil, errors.Errorf("row %T in %s table", row, kind)
			}
			cols[0].times = append(cols[0].times, p.Date.UTC().UnixNano())
			cols[1].syms = append(cols[1].syms, p.Sym)
			cols[2].ints = append(cols[2].ints, p.Qty)
			cols[3].floats = append(cols[3].floats, p.AvgPrice)
			cols[4].floats = append(cols[4].floats, p.MarketValue)
			cols[5].floats = append(cols[5].floats, p.UnrealizedPL)
		}
	default:
		return nil, errors.Wrapf(schema.ErrUnknownTable, "kind %d", kind)
	}
	return cols, nil
}

func rowsFrom(kind schema.Kind, cols []*column) ([]schema.Row, error) {
	count := cols[0].count()
	for i, col := range cols {
		if col.count() != count {
			return nil, errors.Errorf("%s column %s has %d rows, want %d",
				kind, kind.Columns()[i].Name, col.count(), count)
		}
	}

	rows := make([]schema.Row, 0, count)
	switch kind {
	case schema.KindTrade:
		for i := 0; i < count; i++ {
			rows = append(rows, schema.Trade{
				Time:      time.Unix(0, cols[0].times[i]).UTC(),
				Sym:       cols[1].syms[i],
				Exchange:  cols[2].syms[i],
				Price:     cols[3].floats[i],
				Size:      cols[4].ints[i],
				Condition: cols[5].syms[i],
			})
		}
	case schema.KindQuote:
		for i := 0; i < count; i++ {
			rows = append(rows, schema.Quote{
				Time:    time.Unix(0, cols[0].times[i]).UTC(),
				Sym:     cols[1].syms[i],
				Bid:     cols[2].floats[i],
				BidSize: cols[3].ints[i],
				Ask:     cols[4].floats[i],
				AskSize: cols[5].ints[i],
				Source:  cols[6].syms[i],
			})
		}
	case schema.KindOrder:
		for i := 0; i < count; i++ {
			rows = append(rows, schema.Order{
				Time:         time.Unix(0, cols[0].times[i]).UTC(),
				Sym:          cols[1].syms[i],
				ID:           cols[2].syms[i],
				Side:         cols[3].syms[i],
				Status:       cols[4].syms[i],
				FilledQty:    cols[5].ints[i],
				RemainingQty: cols[6].ints[i],
				LimitPrice:   cols[7].floats[i],
			})
		}
	case schema.KindPosition:
		for i := 0; i < count; i++ {
			rows = append(rows, schema.Position{
				Date:         time.Unix(0, cols[0].times[i]).UTC(),
				Sym:          cols[1].syms[i],
				Qty:          cols[2].ints[i],
				AvgPrice:     cols[3].floats[i],
				MarketValue:  cols[4].floats[i],
				UnrealizedPL: cols[5].floats[i],
			})
		}
	default:
		return nil, errors.Wrapf(schema.ErrUnknownTable, "kind %d", kind)
	}
	return rows, nil
}
