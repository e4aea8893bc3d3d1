// Package audit flattens escrow histories into CSV and Parquet files for
// offline review.
package audit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"spazaescrow/native/escrow"
)

// Row is one history transition of one escrow.
type Row struct {
	EscrowID      uuid.UUID
	Sequence      int
	BuyerID       uuid.UUID
	SellerID      uuid.UUID
	Amount        string
	Currency      string
	PreviousState escrow.State
	NewState      escrow.State
	Actor         uuid.UUID
	Timestamp     time.Time
	Note          string
	Decision      string
	FavorBuyer    int
	FavorSeller   int
	Digest        string
}

// Report lists the files produced by Export.
type Report struct {
	CSVPath     string
	ParquetPath string
	Rows        int
}

var header = []string{
	"escrow_id", "sequence", "buyer_id", "seller_id", "amount", "currency",
	"previous_state", "new_state", "actor", "timestamp", "note",
	"decision", "favor_buyer", "favor_seller", "digest",
}

// Flatten returns the history rows of the supplied escrows ordered by escrow
// creation time, then id, then sequence.
func Flatten(escrows []*escrow.Escrow) []Row {
	sorted := make([]*escrow.Escrow, 0, len(escrows))
	for _, esc := range escrows {
		if esc != nil {
			sorted = append(sorted, esc)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID.String() < sorted[j].ID.String()
	})
	var rows []Row
	for _, esc := range sorted {
		for i, entry := range esc.History {
			row := Row{
				EscrowID:      esc.ID,
				Sequence:      i + 1,
				BuyerID:       esc.BuyerID,
				SellerID:      esc.SellerID,
				Amount:        esc.Amount.String(),
				Currency:      esc.Currency,
				PreviousState: entry.PreviousState,
				NewState:      entry.NewState,
				Actor:         entry.Actor,
				Timestamp:     entry.Timestamp.UTC(),
				Note:          entry.Note,
				Digest:        entry.Digest,
			}
			if entry.Tally != nil {
				row.Decision = entry.Tally.Decision.String()
				row.FavorBuyer = entry.Tally.FavorBuyer
				row.FavorSeller = entry.Tally.FavorSeller
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// Export writes <name>.csv and <name>.parquet into dir.
func Export(dir, name string, escrows []*escrow.Escrow) (*Report, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("audit: export name required")
	}
	if strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("audit: invalid export name %q", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	rows := Flatten(escrows)
	report := &Report{
		CSVPath:     filepath.Join(dir, name+".csv"),
		ParquetPath: filepath.Join(dir, name+".parquet"),
		Rows:        len(rows),
	}
	if err := writeCSV(report.CSVPath, rows); err != nil {
		return nil, err
	}
	if err := writeParquet(report.ParquetPath, rows); err != nil {
		return nil, err
	}
	return report, nil
}

func (r Row) record() []string {
	return []string{
		r.EscrowID.String(),
		strconv.Itoa(r.Sequence),
		r.BuyerID.String(),
		r.SellerID.String(),
		r.Amount,
		r.Currency,
		r.PreviousState.String(),
		r.NewState.String(),
		r.Actor.String(),
		r.Timestamp.Format(time.RFC3339Nano),
		r.Note,
		r.Decision,
		strconv.Itoa(r.FavorBuyer),
		strconv.Itoa(r.FavorSeller),
		r.Digest,
	}
}

func writeCSV(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row.record()); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("audit: flush csv: %w", err)
	}
	return file.Close()
}

type parquetRow struct {
	EscrowID      string `parquet:"name=escrow_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sequence      int32  `parquet:"name=sequence, type=INT32"`
	BuyerID       string `parquet:"name=buyer_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	SellerID      string `parquet:"name=seller_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount        string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Currency      string `parquet:"name=currency, type=BYTE_ARRAY, convertedtype=UTF8"`
	PreviousState string `parquet:"name=previous_state, type=BYTE_ARRAY, convertedtype=UTF8"`
	NewState      string `parquet:"name=new_state, type=BYTE_ARRAY, convertedtype=UTF8"`
	Actor         string `parquet:"name=actor, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp     string `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	Note          string `parquet:"name=note, type=BYTE_ARRAY, convertedtype=UTF8"`
	Decision      string `parquet:"name=decision, type=BYTE_ARRAY, convertedtype=UTF8"`
	FavorBuyer    int32  `parquet:"name=favor_buyer, type=INT32"`
	FavorSeller   int32  `parquet:"name=favor_seller, type=INT32"`
	Digest        string `parquet:"name=digest, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			EscrowID:      row.EscrowID.String(),
			Sequence:      int32(row.Sequence),
			BuyerID:       row.BuyerID.String(),
			SellerID:      row.SellerID.String(),
			Amount:        row.Amount,
			Currency:      row.Currency,
			PreviousState: row.PreviousState.String(),
			NewState:      row.NewState.String(),
			Actor:         row.Actor.String(),
			Timestamp:     row.Timestamp.Format(time.RFC3339Nano),
			Note:          row.Note,
			Decision:      row.Decision,
			FavorBuyer:    int32(row.FavorBuyer),
			FavorSeller:   int32(row.FavorSeller),
			Digest:        row.Digest,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}
