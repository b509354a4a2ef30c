package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate = validator.New()

// Flow 标识当前会话所处的对话流程
type Flow string

const (
	FlowNone     Flow = ""
	FlowCreateAd Flow = "create_ad"
	FlowFeedback Flow = "feedback"
	FlowEditAd   Flow = "edit_ad"
	FlowReject   Flow = "reject"
	FlowMessage  Flow = "message"
	FlowSearch   Flow = "search"
)

// AdStep 发布广告流程的步骤
type AdStep string

const (
	AdStepTitle       AdStep = "title"
	AdStepDescription AdStep = "description"
	AdStepPrice       AdStep = "price"
	AdStepLocation    AdStep = "location"
	AdStepContact     AdStep = "contact"
	AdStepCategory    AdStep = "category"
	AdStepConfirm     AdStep = "confirm"
)

// AdDraft 是发布流程中的草稿，只有确认后才会写入广告表
type AdDraft struct {
	Step        AdStep  `json:"step"`
	Title       string  `json:"title" validate:"required,max=200"`
	Description string  `json:"description" validate:"required,max=4000"`
	Price       float64 `json:"price" validate:"gte=0"`
	Location    string  `json:"location" validate:"required,max=200"`
	ContactInfo string  `json:"contact_info" validate:"required,max=500"`
	CategoryID  *int64  `json:"category_id,omitempty"`
}

// Content 校验草稿并转换为广告内容
func (d *AdDraft) Content(limits PriceRange) (AdContent, error) {
	if err := validateStruct(d); err != nil {
		return AdContent{}, err
	}
	c := AdContent{
		Title:       d.Title,
		Description: d.Description,
		Price:       d.Price,
		Location:    d.Location,
		ContactInfo: d.ContactInfo,
		CategoryID:  d.CategoryID,
	}
	return c, c.Validate(limits)
}

// FeedbackStep 评价流程的步骤
type FeedbackStep string

const (
	FeedbackStepKind    FeedbackStep = "kind"
	FeedbackStepAd      FeedbackStep = "ad"
	FeedbackStepRating  FeedbackStep = "rating"
	FeedbackStepComment FeedbackStep = "comment"
	FeedbackStepConfirm FeedbackStep = "confirm"
)

type FeedbackDraft struct {
	Step    FeedbackStep `json:"step"`
	Type    FeedbackType `json:"type" validate:"required,oneof=ad bot"`
	AdID    *int64       `json:"ad_id,omitempty" validate:"required_if=Type ad"`
	Rating  int          `json:"rating" validate:"min=1,max=5"`
	Comment string       `json:"comment" validate:"max=1000"`
}

func (d *FeedbackDraft) Validate() error {
	return validateStruct(d)
}

// PendingInput 记录单步输入流程等待的目标
type PendingInput struct {
	AdID       int64         `json:"ad_id,omitempty"`
	Field      string        `json:"field,omitempty"`
	ReasonCode RejectionCode `json:"reason_code,omitempty"`
}

// Session 是某个用户在一次对话中的临时状态，同一时刻只有一个流程有效
type Session struct {
	Flow     Flow           `json:"flow"`
	Ad       *AdDraft       `json:"ad,omitempty"`
	Feedback *FeedbackDraft `json:"feedback,omitempty"`
	Input    *PendingInput  `json:"input,omitempty"`
	// Criteria 是最近一次搜索的条件，用于“保存搜索”按钮
	Criteria  *Criteria `json:"criteria,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewAdSession(now time.Time) *Session {
	return &Session{Flow: FlowCreateAd, Ad: &AdDraft{Step: AdStepTitle}, UpdatedAt: now}
}

func NewFeedbackSession(now time.Time) *Session {
	return &Session{Flow: FlowFeedback, Feedback: &FeedbackDraft{Step: FeedbackStepKind}, UpdatedAt: now}
}

func NewInputSession(flow Flow, input PendingInput, now time.Time) *Session {
	return &Session{Flow: flow, Input: &input, UpdatedAt: now}
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return NewValidationError(strings.ToLower(fe.Field()), describeTag(fe))
	}
	return err
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	}
	return "is invalid"
}
