// Package sheets publishes fetch campaigns to a Google spreadsheet
// over the Sheets v4 REST API. The input worksheet holds one keyword
// per row with a status cell next to it; the results worksheet
// collects the fetched product rows.
package sheets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"prodrec-backend/lib/restyutil"
	"prodrec-backend/lib/telemetry"
	"prodrec-backend/services/recommend"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2/google"
)

var tracer = telemetry.Tracer("prodrec.services.sheets")

const defaultBaseUrl = "https://sheets.googleapis.com"

var (
	colorYellow = color{Red: 1, Green: 1}
	colorGreen  = color{Green: 1}
	colorWhite  = color{Red: 1, Green: 1, Blue: 1}
)

type Options struct {
	// path to a service account key file, required against the real
	// API; leave empty to talk to an unauthenticated test server
	CredentialsFile string
	SpreadsheetId   string
	// defaults to the live endpoint
	BaseUrl string
	// worksheet titles, default "User Input" and "Sheet2"
	InputSheet  string
	ResultSheet string
}

type Sink struct {
	http          *resty.Client
	spreadsheetId string
	inputSheet    string
	resultSheet   string

	mu sync.Mutex
	// numeric worksheet ids, resolved lazily from the titles
	sheetIds map[string]int64
	// first free row on the result sheet, 1-based
	nextRow int
}

func NewSink(ctx context.Context, options Options) (*Sink, error) {
	if options.BaseUrl == "" {
		options.BaseUrl = defaultBaseUrl
	}
	if options.InputSheet == "" {
		options.InputSheet = "User Input"
	}
	if options.ResultSheet == "" {
		options.ResultSheet = "Sheet2"
	}
	if options.SpreadsheetId == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id is required")
	}

	httpClient := http.DefaultClient
	if options.CredentialsFile != "" {
		key, err := os.ReadFile(options.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("sheets: read service account key: %w", err)
		}
		config, err := google.JWTConfigFromJSON(key, "https://www.googleapis.com/auth/spreadsheets")
		if err != nil {
			return nil, fmt.Errorf("sheets: parse service account key: %w", err)
		}
		httpClient = config.Client(ctx)
	}

	client := resty.NewWithClient(httpClient)
	client.SetBaseURL(strings.TrimSuffix(options.BaseUrl, "/"))
	restyutil.InstrumentClient(client, tracer, nil)

	return &Sink{
		http:          client,
		spreadsheetId: options.SpreadsheetId,
		inputSheet:    options.InputSheet,
		resultSheet:   options.ResultSheet,
	}, nil
}

type valueRange struct {
	Values [][]string `json:"values,omitempty"`
}

type color struct {
	Red   float64 `json:"red,omitempty"`
	Green float64 `json:"green,omitempty"`
	Blue  float64 `json:"blue,omitempty"`
}

type gridRange struct {
	SheetId       int64 `json:"sheetId"`
	StartRowIndex int   `json:"startRowIndex"`
	// zero means unbounded, covering the rest of the sheet
	EndRowIndex      int `json:"endRowIndex,omitempty"`
	StartColumnIndex int `json:"startColumnIndex"`
	EndColumnIndex   int `json:"endColumnIndex"`
}

type repeatCellRequest struct {
	Range gridRange `json:"range"`
	Cell  struct {
		UserEnteredFormat struct {
			BackgroundColor color `json:"backgroundColor"`
		} `json:"userEnteredFormat"`
	} `json:"cell"`
	Fields string `json:"fields"`
}

type batchUpdateRequest struct {
	Requests []map[string]repeatCellRequest `json:"requests"`
}

type spreadsheetMetadata struct {
	Sheets []struct {
		Properties struct {
			SheetId int64  `json:"sheetId"`
			Title   string `json:"title"`
		} `json:"properties"`
	} `json:"sheets"`
}

// CampaignStart wipes the previous campaign's output: the result sheet
// is cleared below its header and every keyword's status cell is set
// to "Fetching Product Recommendations" on a yellow background.
func (s *Sink) CampaignStart(ctx context.Context, numKeywords int) error {
	ctx, span := tracer.Start(ctx, "CampaignStart")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.resolveSheetIds(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve worksheet ids")
		return err
	}

	err = s.clear(ctx, fmt.Sprintf("%s!A2:E", s.resultSheet))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to clear result sheet")
		return err
	}
	s.nextRow = 2

	// the whole column, not just this campaign's rows: a shorter
	// keyword list must not leave a longer previous run's green cells
	// behind
	err = s.clear(ctx, fmt.Sprintf("%s!B2:B", s.inputSheet))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to clear status column")
		return err
	}
	err = s.formatStatusCells(ctx, 1, 0, colorWhite)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reset status column format")
		return err
	}

	pending := make([][]string, numKeywords)
	for i := range pending {
		pending[i] = []string{"Fetching Product Recommendations"}
	}
	statusRange := fmt.Sprintf("%s!B2:B%d", s.inputSheet, numKeywords+1)
	err = s.update(ctx, statusRange, pending)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark keywords pending")
		return err
	}
	return s.formatStatusCells(ctx, 1, numKeywords+1, colorYellow)
}

// PublishBatch appends one keyword's product rows to the result sheet,
// with a blank spacer row before every batch but the first, and flips
// the keyword's status cell to "Fetched Products Successfully" on
// green.
func (s *Sink) PublishBatch(ctx context.Context, batch recommend.Batch, position int) error {
	ctx, span := tracer.Start(ctx, "PublishBatch")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([][]string, 0, len(batch.Records)+1)
	if position > 1 {
		rows = append(rows, []string{""})
	}
	for i, record := range batch.Records {
		rows = append(rows, []string{
			record.Name,
			record.Url,
			record.Price,
			recommend.Percent(batch.Scores[i]),
			record.Source,
		})
	}

	if len(rows) == 0 {
		return nil
	}
	updateRange := fmt.Sprintf("%s!A%d:E%d", s.resultSheet, s.nextRow, s.nextRow+len(rows)-1)
	err := s.update(ctx, updateRange, rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write product rows")
		return err
	}
	s.nextRow += len(rows)

	statusCell := fmt.Sprintf("%s!B%d", s.inputSheet, position+1)
	err = s.update(ctx, statusCell, [][]string{{"Fetched Products Successfully"}})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark keyword done")
		return err
	}
	return s.formatStatusCells(ctx, position, position+1, colorGreen)
}

// CampaignEnd is the final flush; writes are synchronous so there is
// nothing left to push, only the campaign span to close out.
func (s *Sink) CampaignEnd(ctx context.Context) error {
	_, span := tracer.Start(ctx, "CampaignEnd")
	defer span.End()
	return nil
}

func (s *Sink) resolveSheetIds(ctx context.Context) error {
	if s.sheetIds != nil {
		return nil
	}

	var metadata spreadsheetMetadata
	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("fields", "sheets.properties").
		SetResult(&metadata).
		Get(fmt.Sprintf("/v4/spreadsheets/%s", s.spreadsheetId))
	if err != nil {
		return err
	}
	if res.StatusCode() != http.StatusOK {
		return fmt.Errorf("sheets: metadata request returned status %d", res.StatusCode())
	}

	ids := map[string]int64{}
	for _, sheet := range metadata.Sheets {
		ids[sheet.Properties.Title] = sheet.Properties.SheetId
	}
	for _, title := range []string{s.inputSheet, s.resultSheet} {
		if _, ok := ids[title]; !ok {
			return fmt.Errorf("sheets: spreadsheet has no worksheet named %q", title)
		}
	}
	s.sheetIds = ids
	return nil
}

func (s *Sink) clear(ctx context.Context, valuesRange string) error {
	res, err := s.http.R().
		SetContext(ctx).
		SetBody(map[string]any{}).
		Post(fmt.Sprintf("/v4/spreadsheets/%s/values/%s:clear", s.spreadsheetId, url.PathEscape(valuesRange)))
	if err != nil {
		return err
	}
	if res.StatusCode() != http.StatusOK {
		return fmt.Errorf("sheets: clear %q returned status %d", valuesRange, res.StatusCode())
	}
	return nil
}

func (s *Sink) update(ctx context.Context, valuesRange string, values [][]string) error {
	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("valueInputOption", "RAW").
		SetBody(valueRange{Values: values}).
		Put(fmt.Sprintf("/v4/spreadsheets/%s/values/%s", s.spreadsheetId, url.PathEscape(valuesRange)))
	if err != nil {
		return err
	}
	if res.StatusCode() != http.StatusOK {
		return fmt.Errorf("sheets: update %q returned status %d", valuesRange, res.StatusCode())
	}
	return nil
}

// formatStatusCells paints the background of the input sheet's status
// cells over the half-open row range [startRow, endRow), 0-based.
func (s *Sink) formatStatusCells(ctx context.Context, startRow, endRow int, background color) error {
	request := repeatCellRequest{
		Range: gridRange{
			SheetId:          s.sheetIds[s.inputSheet],
			StartRowIndex:    startRow,
			EndRowIndex:      endRow,
			StartColumnIndex: 1,
			EndColumnIndex:   2,
		},
		Fields: "userEnteredFormat.backgroundColor",
	}
	request.Cell.UserEnteredFormat.BackgroundColor = background

	res, err := s.http.R().
		SetContext(ctx).
		SetBody(batchUpdateRequest{
			Requests: []map[string]repeatCellRequest{{"repeatCell": request}},
		}).
		Post(fmt.Sprintf("/v4/spreadsheets/%s:batchUpdate", s.spreadsheetId))
	if err != nil {
		return err
	}
	if res.StatusCode() != http.StatusOK {
		return fmt.Errorf("sheets: batchUpdate returned status %d", res.StatusCode())
	}
	return nil
}
