// Package parcel picks the carrier package format for a shipment weight.
package parcel

import (
	"fmt"
)

type FormatType string

const (
	FormatLetter       FormatType = "letter"
	FormatLargeLetter  FormatType = "largeLetter"
	FormatSmallParcel  FormatType = "smallParcel"
	FormatMediumParcel FormatType = "mediumParcel"
)

type Format interface {
	Validate(weightGrams int) error
	Type() FormatType
}

type LetterFormat struct{}

func (f LetterFormat) Validate(weightGrams int) error {
	if weightGrams > 100 {
		return fmt.Errorf("letter accepts up to 100g, got %dg", weightGrams)
	}
	return nil
}

func (f LetterFormat) Type() FormatType {
	return FormatLetter
}

type LargeLetterFormat struct{}

func (f LargeLetterFormat) Validate(weightGrams int) error {
	if weightGrams > 750 {
		return fmt.Errorf("large letter accepts up to 750g, got %dg", weightGrams)
	}
	return nil
}

func (f LargeLetterFormat) Type() FormatType {
	return FormatLargeLetter
}

type SmallParcelFormat struct{}

func (f SmallParcelFormat) Validate(weightGrams int) error {
	if weightGrams > 2000 {
		return fmt.Errorf("small parcel accepts up to 2000g, got %dg", weightGrams)
	}
	return nil
}

func (f SmallParcelFormat) Type() FormatType {
	return FormatSmallParcel
}

type MediumParcelFormat struct{}

func (f MediumParcelFormat) Validate(weightGrams int) error {
	if weightGrams > 20000 {
		return fmt.Errorf("medium parcel accepts up to 20000g, got %dg", weightGrams)
	}
	return nil
}

func (f MediumParcelFormat) Type() FormatType {
	return FormatMediumParcel
}

type Service interface {
	// Select returns the smallest format that accepts the weight.
	Select(weightGrams int) (Format, error)
	// Weight returns weightGrams, or the configured default when it is not positive.
	Weight(weightGrams int) int
}

type service struct {
	formats       []Format
	defaultWeight int
}

func NewService(defaultWeightGrams int) Service {
	if defaultWeightGrams <= 0 {
		defaultWeightGrams = 100
	}
	return &service{
		formats: []Format{
			LetterFormat{},
			LargeLetterFormat{},
			SmallParcelFormat{},
			MediumParcelFormat{},
		},
		defaultWeight: defaultWeightGrams,
	}
}

func (s *service) Weight(weightGrams int) int {
	if weightGrams <= 0 {
		return s.defaultWeight
	}
	return weightGrams
}

func (s *service) Select(weightGrams int) (Format, error) {
	w := s.Weight(weightGrams)
	var lastErr error
	for _, f := range s.formats {
		if err := f.Validate(w); err != nil {
			lastErr = err
			continue
		}
		return f, nil
	}
	return nil, fmt.Errorf("no package format for %dg: %w", w, lastErr)
}
