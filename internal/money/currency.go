package money

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/BurntSushi/toml"
)

var ErrUnknownCurrency = errors.New("unknown currency")

// Currency is an ISO 4217 style code. It decides how many fractional digits
// a Money value may carry.
type Currency string

func (c Currency) Normalize() Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(string(c))))
}

const defaultPrecision int32 = 2

var zeroDecimalCodes = []Currency{
	"BIF", "CLP", "DJF", "GNF", "ISK", "JPY", "KMF", "KRW", "MGA",
	"PYG", "RWF", "UGX", "VND", "VUV", "XAF", "XOF", "XPF",
}

var twoDecimalCodes = []Currency{
	"AED", "AUD", "BGN", "BRL", "CAD", "CHF", "CNY", "CZK", "DKK", "EUR",
	"GBP", "HKD", "HUF", "IDR", "ILS", "INR", "MXN", "MYR", "NOK", "NZD",
	"PHP", "PLN", "RON", "SAR", "SEK", "SGD", "THB", "TRY", "USD", "ZAR",
}

// Registry maps currency codes to their precision. A Registry is immutable
// once built; WithOverrides returns a copy.
type Registry struct {
	precision map[Currency]int32
}

func NewRegistry() *Registry {
	r := &Registry{precision: make(map[Currency]int32, len(zeroDecimalCodes)+len(twoDecimalCodes))}
	for _, code := range twoDecimalCodes {
		r.precision[code] = defaultPrecision
	}
	for _, code := range zeroDecimalCodes {
		r.precision[code] = 0
	}
	return r
}

func (r *Registry) Lookup(code Currency) (int32, error) {
	p, ok := r.precision[code.Normalize()]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, string(code))
	}
	return p, nil
}

// Precision falls back to two digits for codes the registry does not know.
func (r *Registry) Precision(code Currency) int32 {
	if p, err := r.Lookup(code); err == nil {
		return p
	}
	return defaultPrecision
}

func (r *Registry) AllowsFraction(code Currency) bool {
	return r.Precision(code) > 0
}

func (r *Registry) Codes() []Currency {
	codes := make([]Currency, 0, len(r.precision))
	for code := range r.precision {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

func (r *Registry) WithOverrides(overrides map[Currency]int32) (*Registry, error) {
	next := &Registry{precision: make(map[Currency]int32, len(r.precision)+len(overrides))}
	for code, p := range r.precision {
		next.precision[code] = p
	}
	for code, p := range overrides {
		code = code.Normalize()
		if len(code) != 3 {
			return nil, fmt.Errorf("currency code %q must have three letters", string(code))
		}
		if p != 0 && p != defaultPrecision {
			return nil, fmt.Errorf("currency %s: precision must be 0 or 2, got %d", code, p)
		}
		next.precision[code] = p
	}
	return next, nil
}

type currencyFile struct {
	Currencies map[string]struct {
		Precision int32 `toml:"precision"`
	} `toml:"currencies"`
}

// LoadRegistryFile extends the built-in table with a TOML file of the form
//
//	[currencies.XYZ]
//	precision = 0
func LoadRegistryFile(path string) (*Registry, error) {
	var file currencyFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode currency file: %w", err)
	}
	overrides := make(map[Currency]int32, len(file.Currencies))
	for code, entry := range file.Currencies {
		overrides[Currency(code)] = entry.Precision
	}
	return NewRegistry().WithOverrides(overrides)
}

var defaultRegistry atomic.Pointer[Registry]

func init() {
	defaultRegistry.Store(NewRegistry())
}

// Default is the registry used by Money formatting and sanitizing.
func Default() *Registry {
	return defaultRegistry.Load()
}

func SetDefault(r *Registry) {
	if r == nil {
		r = NewRegistry()
	}
	defaultRegistry.Store(r)
}

func Precision(code Currency) int32 {
	return Default().Precision(code)
}

func AllowsFraction(code Currency) bool {
	return Default().AllowsFraction(code)
}
