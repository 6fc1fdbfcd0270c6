package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrTicketNotFound           = errors.New("ticket not found")
	ErrRaffleNotFound           = errors.New("raffle not found")
	ErrRaffleNotActive          = errors.New("raffle is not active")
	ErrBatchTooLarge            = errors.New("too many tickets in one request")
	ErrEmptyBatch               = errors.New("no tickets requested")
	ErrHolderRequired           = errors.New("holder id is required")
	ErrAlreadyReserved          = errors.New("ticket already reserved")
	ErrAlreadyPurchased         = errors.New("ticket already purchased")
	ErrPartiallyUnavailable     = errors.New("some tickets are no longer available")
	ErrTicketNotReserved        = errors.New("ticket is not reserved")
	ErrMixedBatch               = errors.New("tickets belong to different raffles or holders")
	ErrPaymentReferenceRequired = errors.New("payment reference is required")
	ErrPromoterNotFound         = errors.New("promoter not found")
	ErrPromoterInactive         = errors.New("promoter is inactive")
	ErrPromoterExists           = errors.New("promoter code already exists")
	ErrInvalidTicketCount       = errors.New("invalid ticket count")
	ErrInvalidStatusTransition  = errors.New("invalid status transition")
	ErrReasonRequired           = errors.New("a reason is required")
	ErrInvalidPhone             = errors.New("invalid phone number")
	ErrHoldExpired              = errors.New("reservation hold has expired")
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrInvalidPromoter          = errors.New("promoter code and name are required")
	ErrInvalidParticipant       = errors.New("participant name is required")
	ErrInvalidPaymentMethod     = errors.New("unknown payment method")
	ErrInvalidRaffle            = errors.New("invalid raffle")
)

// NotFoundError lists the requested ids (or numbers) that do not exist.
type NotFoundError struct {
	IDs []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%v: %s", ErrTicketNotFound, strings.Join(e.IDs, ", "))
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrTicketNotFound
}

// UnavailableError is returned when a reservation batch loses the race for
// one or more tickets. Nothing in the batch was reserved.
type UnavailableError struct {
	Reserved  []TicketRef
	Purchased []TicketRef
}

func (e *UnavailableError) Error() string {
	taken := e.Numbers()
	if len(taken) == 0 {
		return ErrPartiallyUnavailable.Error()
	}
	return fmt.Sprintf("%v: %s", ErrPartiallyUnavailable, strings.Join(taken, ", "))
}

func (e *UnavailableError) Is(target error) bool {
	switch target {
	case ErrPartiallyUnavailable:
		return true
	case ErrAlreadyReserved:
		return len(e.Reserved) > 0
	case ErrAlreadyPurchased:
		return len(e.Purchased) > 0
	}
	return false
}

// Numbers returns the taken ticket numbers in ascending order.
func (e *UnavailableError) Numbers() []string {
	out := make([]string, 0, len(e.Reserved)+len(e.Purchased))
	for _, ref := range e.Reserved {
		out = append(out, ref.Number)
	}
	for _, ref := range e.Purchased {
		out = append(out, ref.Number)
	}
	sort.Strings(out)
	return out
}

// NotReservedError lists tickets a finalize call could not convert.
type NotReservedError struct {
	Tickets []TicketRef
}

func (e *NotReservedError) Error() string {
	numbers := make([]string, len(e.Tickets))
	for i, ref := range e.Tickets {
		numbers[i] = ref.Number
	}
	return fmt.Sprintf("%v: %s", ErrTicketNotReserved, strings.Join(numbers, ", "))
}

func (e *NotReservedError) Is(target error) bool {
	return target == ErrTicketNotReserved
}
