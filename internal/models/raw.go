package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RawAuthor is the author block of a platform event, before classification.
type RawAuthor struct {
	ID          string   `json:"id" validate:"required"`
	Username    string   `json:"username" validate:"required"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
}

// RawMessage is a chat event as handed over by a chat platform adapter.
// Nothing inside the pipeline sees it before Validate has passed.
type RawMessage struct {
	ID          string    `json:"id" validate:"required"`
	ChannelID   string    `json:"channel_id" validate:"required"`
	ChannelName string    `json:"channel_name"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp" validate:"required"`
	Reactions   []string  `json:"reactions"`
	ThreadID    string    `json:"thread_id,omitempty"`
	Author      RawAuthor `json:"author" validate:"required"`
}

// Validate reports missing or unusable fields as ErrMalformedInput.
func (m RawMessage) Validate() error {
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed on '%s'", ErrMalformedInput, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return nil
}

func (a RawAuthor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Username
}
