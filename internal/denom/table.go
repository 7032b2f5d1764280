// Package denom maps chain denominations to display units and price ids.
package denom

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
)

// Conversion turns a raw denom into its display unit: base = raw / Factor.
type Conversion struct {
	BaseDenom string
	Factor    int64
}

const (
	micro = 1_000_000
	atto  = 1_000_000_000_000_000_000
)

var conversions = map[string]Conversion{
	"ulava":    {BaseDenom: "lava", Factor: micro},
	"uatom":    {BaseDenom: "atom", Factor: micro},
	"ustars":   {BaseDenom: "stars", Factor: micro},
	"uakt":     {BaseDenom: "akt", Factor: micro},
	"uhuahua":  {BaseDenom: "huahua", Factor: micro},
	"uevmos":   {BaseDenom: "evmos", Factor: atto},
	"inj":      {BaseDenom: "inj", Factor: atto},
	"aevmos":   {BaseDenom: "evmos", Factor: atto},
	"basecro":  {BaseDenom: "cro", Factor: 100_000_000},
	"uscrt":    {BaseDenom: "scrt", Factor: micro},
	"uiris":    {BaseDenom: "iris", Factor: micro},
	"uregen":   {BaseDenom: "regen", Factor: micro},
	"uion":     {BaseDenom: "ion", Factor: micro},
	"nanolike": {BaseDenom: "like", Factor: 1_000_000_000},
	"uaxl":     {BaseDenom: "axl", Factor: micro},
	"uband":    {BaseDenom: "band", Factor: micro},
	"ubld":     {BaseDenom: "bld", Factor: micro},
	"ucmdx":    {BaseDenom: "cmdx", Factor: micro},
	"ucre":     {BaseDenom: "cre", Factor: micro},
	"uxprt":    {BaseDenom: "xprt", Factor: micro},
	"uusdc":    {BaseDenom: "usdc", Factor: micro},
}

// Table holds the static conversions and the denom -> price id map.
// It is read-only after construction.
type Table struct {
	conversions map[string]Conversion
	coinIDs     map[string]string
}

// NewTable builds a table over the built-in conversions.
func NewTable(coinIDs map[string]string) *Table {
	ids := make(map[string]string, len(coinIDs))
	for k, v := range coinIDs {
		ids[k] = v
	}
	return &Table{conversions: conversions, coinIDs: ids}
}

// LoadTable reads the denom map file. A missing file yields an empty map.
func LoadTable(path string, logger zerolog.Logger) (*Table, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Str("path", path).Msg("denom map not found; every token will be unpriceable")
			return NewTable(nil), nil
		}
		return nil, fmt.Errorf("read denom map: %w", err)
	}
	var ids map[string]string
	if err := json.Unmarshal(payload, &ids); err != nil {
		return nil, fmt.Errorf("parse denom map %s: %w", path, err)
	}
	return NewTable(ids), nil
}

// Convert returns the conversion for a raw denom.
func (t *Table) Convert(denom string) (Conversion, bool) {
	c, ok := t.conversions[denom]
	return c, ok
}

// CoinID returns the price source id for a display denom.
func (t *Table) CoinID(denom string) (string, bool) {
	id, ok := t.coinIDs[denom]
	return id, ok && id != ""
}

// Len reports how many denoms have a price id.
func (t *Table) Len() int {
	return len(t.coinIDs)
}
