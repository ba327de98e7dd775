package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvemarket/internal/storage/models"
)

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// weiDecimals converts stored wei amounts to whole units.
const weiDecimals = 18

// ExportOptions configures the export behavior
type ExportOptions struct {
	Format      ExportFormat
	StartTime   time.Time
	EndTime     time.Time
	TokenFilter string // token address, case-insensitive
	SideFilter  string // buy or sell
	OutputDir   string
}

// TradeExporter handles trade export functionality
type TradeExporter struct {
	logger *zap.Logger
}

// NewTradeExporter creates a new trade exporter
func NewTradeExporter(logger *zap.Logger) *TradeExporter {
	return &TradeExporter{
		logger: logger.Named("export"),
	}
}

// ExportTrades writes the matching trades to a new file in options.OutputDir
// and returns its path.
func (te *TradeExporter) ExportTrades(trades []*models.Trade, options ExportOptions) (string, error) {
	filtered := te.filterTrades(trades, options)
	if len(filtered) == 0 {
		return "", fmt.Errorf("no trades match the export criteria")
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ExecutedAt.Before(filtered[j].ExecutedAt)
	})

	outputPath := filepath.Join(options.OutputDir, te.generateFilename(options))
	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	switch options.Format {
	case FormatCSV:
		err = te.exportToCSV(filtered, outputPath)
	case FormatJSON:
		err = te.exportToJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	te.logger.Info("Trades exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))

	return outputPath, nil
}

func (te *TradeExporter) filterTrades(trades []*models.Trade, options ExportOptions) []*models.Trade {
	var filtered []*models.Trade
	for _, trade := range trades {
		if !options.StartTime.IsZero() && trade.ExecutedAt.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && trade.ExecutedAt.After(options.EndTime) {
			continue
		}
		if options.TokenFilter != "" && !strings.EqualFold(trade.Token, options.TokenFilter) {
			continue
		}
		if options.SideFilter != "" && trade.Side != options.SideFilter {
			continue
		}
		filtered = append(filtered, trade)
	}
	return filtered
}

func (te *TradeExporter) generateFilename(options ExportOptions) string {
	timestamp := time.Now().Format("20060102_150405")

	prefix := "trades_all"
	if options.SideFilter != "" {
		prefix = "trades_" + options.SideFilter
	}
	if len(options.TokenFilter) >= 10 {
		prefix += "_" + strings.ToLower(options.TokenFilter[2:10])
	}
	return fmt.Sprintf("%s_%s.%s", prefix, timestamp, options.Format)
}

// CSVHeaders returns the column names of the CSV export.
func CSVHeaders() []string {
	return []string{
		"executed_at", "token", "side", "trader", "recipient", "order_referrer",
		"total_eth", "fee_eth", "net_eth", "tokens", "price_eth", "total_supply",
		"market_type", "comment",
	}
}

func csvRow(t *models.Trade) []string {
	return []string{
		t.ExecutedAt.UTC().Format(time.RFC3339Nano),
		t.Token,
		t.Side,
		t.Trader,
		t.Recipient,
		t.OrderReferrer,
		units(t.TotalEth).String(),
		units(t.Fee).String(),
		units(t.NetEth).String(),
		units(t.TokenAmount).String(),
		units(t.Price).String(),
		units(t.TotalSupply).String(),
		t.MarketType,
		t.Comment,
	}
}

func (te *TradeExporter) exportToCSV(trades []*models.Trade, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, trade := range trades {
		if err := writer.Write(csvRow(trade)); err != nil {
			return fmt.Errorf("failed to write trade: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// TradeRecord is the JSON form of a trade, amounts in whole units.
type TradeRecord struct {
	ExecutedAt    time.Time       `json:"executed_at"`
	Token         string          `json:"token"`
	Side          string          `json:"side"`
	Trader        string          `json:"trader"`
	Recipient     string          `json:"recipient"`
	OrderReferrer string          `json:"order_referrer,omitempty"`
	TotalEth      decimal.Decimal `json:"total_eth"`
	Fee           decimal.Decimal `json:"fee_eth"`
	NetEth        decimal.Decimal `json:"net_eth"`
	Tokens        decimal.Decimal `json:"tokens"`
	Price         decimal.Decimal `json:"price_eth"`
	MarketType    string          `json:"market_type"`
	Comment       string          `json:"comment,omitempty"`
}

func record(t *models.Trade) TradeRecord {
	return TradeRecord{
		ExecutedAt:    t.ExecutedAt.UTC(),
		Token:         t.Token,
		Side:          t.Side,
		Trader:        t.Trader,
		Recipient:     t.Recipient,
		OrderReferrer: t.OrderReferrer,
		TotalEth:      units(t.TotalEth),
		Fee:           units(t.Fee),
		NetEth:        units(t.NetEth),
		Tokens:        units(t.TokenAmount),
		Price:         units(t.Price),
		MarketType:    t.MarketType,
		Comment:       t.Comment,
	}
}

func (te *TradeExporter) exportToJSON(trades []*models.Trade, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	records := make([]TradeRecord, 0, len(trades))
	for _, t := range trades {
		records = append(records, record(t))
	}

	exportData := struct {
		ExportTime time.Time     `json:"export_time"`
		TradeCount int           `json:"trade_count"`
		Summary    ExportSummary `json:"summary"`
		Trades     []TradeRecord `json:"trades"`
	}{
		ExportTime: time.Now().UTC(),
		TradeCount: len(trades),
		Summary:    Summarize(trades),
		Trades:     records,
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// ExportSummary contains summary statistics for exported trades
type ExportSummary struct {
	TotalTrades     int             `json:"total_trades"`
	BuyCount        int             `json:"buy_count"`
	SellCount       int             `json:"sell_count"`
	PoolTrades      int             `json:"pool_trades"`
	UniqueTokens    int             `json:"unique_tokens"`
	UniqueTraders   int             `json:"unique_traders"`
	TotalBuyVolume  decimal.Decimal `json:"total_buy_volume"`
	TotalSellVolume decimal.Decimal `json:"total_sell_volume"`
	TotalFees       decimal.Decimal `json:"total_fees"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
}

// Summarize computes the statistics of trades, which must be sorted by time.
func Summarize(trades []*models.Trade) ExportSummary {
	summary := ExportSummary{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return summary
	}

	summary.StartDate = trades[0].ExecutedAt
	summary.EndDate = trades[len(trades)-1].ExecutedAt

	tokens := make(map[string]bool)
	traders := make(map[string]bool)
	for _, t := range trades {
		tokens[t.Token] = true
		traders[t.Trader] = true
		if t.MarketType == "UNISWAP_POOL" {
			summary.PoolTrades++
		}
		summary.TotalFees = summary.TotalFees.Add(units(t.Fee))

		switch t.Side {
		case models.SideBuy:
			summary.BuyCount++
			summary.TotalBuyVolume = summary.TotalBuyVolume.Add(units(t.TotalEth))
		case models.SideSell:
			summary.SellCount++
			summary.TotalSellVolume = summary.TotalSellVolume.Add(units(t.TotalEth))
		}
	}
	summary.UniqueTokens = len(tokens)
	summary.UniqueTraders = len(traders)
	return summary
}

func units(wei decimal.Decimal) decimal.Decimal {
	return wei.Shift(-weiDecimals)
}
