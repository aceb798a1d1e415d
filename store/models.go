package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// ParticipantKind identifies how a participant value is interpreted.
// Numeric values match the original loonflow storage so existing rows
// keep their meaning.
type ParticipantKind int16

const (
	ParticipantPersonal    ParticipantKind = 1 // single username
	ParticipantMulti       ParticipantKind = 2 // comma-separated usernames
	ParticipantDept        ParticipantKind = 3 // department id
	ParticipantRole        ParticipantKind = 4 // role id
	ParticipantVariable    ParticipantKind = 5 // creator / creator_tl, resolved at transition time
	ParticipantRobot       ParticipantKind = 6 // script identifier
	ParticipantField       ParticipantKind = 7 // username(s) read from a ticket field
	ParticipantParentField ParticipantKind = 8 // username(s) read from a parent ticket field
)

// ValidParticipantKinds is the set of valid participant kind values.
var ValidParticipantKinds = map[ParticipantKind]bool{
	ParticipantPersonal:    true,
	ParticipantMulti:       true,
	ParticipantDept:        true,
	ParticipantRole:        true,
	ParticipantVariable:    true,
	ParticipantRobot:       true,
	ParticipantField:       true,
	ParticipantParentField: true,
}

// Concrete reports whether the kind may be stored on a ticket as its
// current participant. Deferred kinds must be resolved first.
func (k ParticipantKind) Concrete() bool {
	switch k {
	case ParticipantPersonal, ParticipantMulti, ParticipantDept, ParticipantRole, ParticipantRobot:
		return true
	}
	return false
}

// Deferred reports whether the kind is resolved against ticket data at
// transition time.
func (k ParticipantKind) Deferred() bool {
	switch k {
	case ParticipantVariable, ParticipantField, ParticipantParentField:
		return true
	}
	return false
}

func (k ParticipantKind) String() string {
	switch k {
	case ParticipantPersonal:
		return "personal"
	case ParticipantMulti:
		return "multi"
	case ParticipantDept:
		return "dept"
	case ParticipantRole:
		return "role"
	case ParticipantVariable:
		return "variable"
	case ParticipantRobot:
		return "robot"
	case ParticipantField:
		return "field"
	case ParticipantParentField:
		return "parent_field"
	}
	return fmt.Sprintf("participant_kind(%d)", int16(k))
}

// FieldType identifies the typed column a custom field value lives in.
// Values match the original loonflow field type constants.
type FieldType int16

const (
	FieldTypeStr         FieldType = 5
	FieldTypeInt         FieldType = 10
	FieldTypeFloat       FieldType = 15
	FieldTypeBool        FieldType = 20
	FieldTypeDate        FieldType = 25
	FieldTypeDatetime    FieldType = 30
	FieldTypeRadio       FieldType = 35
	FieldTypeCheckbox    FieldType = 40
	FieldTypeSelect      FieldType = 45
	FieldTypeMultiSelect FieldType = 50
	FieldTypeText        FieldType = 55
	FieldTypeUsername    FieldType = 60
)

// ValidFieldTypes is the set of valid field type values.
var ValidFieldTypes = map[FieldType]bool{
	FieldTypeStr:         true,
	FieldTypeInt:         true,
	FieldTypeFloat:       true,
	FieldTypeBool:        true,
	FieldTypeDate:        true,
	FieldTypeDatetime:    true,
	FieldTypeRadio:       true,
	FieldTypeCheckbox:    true,
	FieldTypeSelect:      true,
	FieldTypeMultiSelect: true,
	FieldTypeText:        true,
	FieldTypeUsername:    true,
}

func (t FieldType) String() string {
	switch t {
	case FieldTypeStr:
		return "str"
	case FieldTypeInt:
		return "int"
	case FieldTypeFloat:
		return "float"
	case FieldTypeBool:
		return "bool"
	case FieldTypeDate:
		return "date"
	case FieldTypeDatetime:
		return "datetime"
	case FieldTypeRadio:
		return "radio"
	case FieldTypeCheckbox:
		return "checkbox"
	case FieldTypeSelect:
		return "select"
	case FieldTypeMultiSelect:
		return "multi_select"
	case FieldTypeText:
		return "text"
	case FieldTypeUsername:
		return "username"
	}
	return fmt.Sprintf("field_type(%d)", int16(t))
}

// FieldAttribute is the per-state access level of a field.
type FieldAttribute int16

const (
	FieldReadOnly  FieldAttribute = 1
	FieldReadWrite FieldAttribute = 2
	FieldRequired  FieldAttribute = 3
)

// ValidFieldAttributes is the set of valid field attribute values.
var ValidFieldAttributes = map[FieldAttribute]bool{
	FieldReadOnly:  true,
	FieldReadWrite: true,
	FieldRequired:  true,
}

// Writable reports whether a field with this attribute accepts writes.
func (a FieldAttribute) Writable() bool {
	return a == FieldReadWrite || a == FieldRequired
}

// Ticket is the header row of a ticket.
type Ticket struct {
	ID                  int64           `json:"id"`
	SN                  string          `json:"sn"`
	Title               string          `json:"title"`
	WorkflowID          int64           `json:"workflow_id"`
	StateID             int64           `json:"state_id"`
	ParentTicketID      int64           `json:"parent_ticket_id"`
	ParentTicketStateID int64           `json:"parent_ticket_state_id"`
	ParticipantTypeID   ParticipantKind `json:"participant_type_id"`
	Participant         string          `json:"participant"`
	Creator             string          `json:"creator"`
	Relation            string          `json:"relation"`
	IsDeleted           bool            `json:"is_deleted"`
	GmtCreated          time.Time       `json:"gmt_created"`
	GmtModified         time.Time       `json:"gmt_modified"`
}

// RelationSet returns the relation column as a set of usernames.
func (t *Ticket) RelationSet() []string { return SplitSet(t.Relation) }

// InRelation reports whether username is a member of the relation set.
func (t *Ticket) InRelation(username string) bool {
	return ContainsToken(t.Relation, username)
}

// AddRelation merges usernames into the relation set, preserving
// first-seen order.
func (t *Ticket) AddRelation(usernames ...string) {
	t.Relation = JoinSet(MergeSets(t.RelationSet(), usernames))
}

// ParticipantSet returns the participant column as a set of tokens.
// Only meaningful for Multi participants.
func (t *Ticket) ParticipantSet() []string { return SplitSet(t.Participant) }

// FieldValue is one custom field row. Exactly one typed column is
// meaningful per row, selected by the field's FieldType.
type FieldValue struct {
	ID               int64      `json:"id"`
	TicketID         int64      `json:"ticket_id"`
	FieldKey         string     `json:"field_key"`
	ValueChar        *string    `json:"value_char,omitempty"`
	ValueInt         *int64     `json:"value_int,omitempty"`
	ValueFloat       *float64   `json:"value_float,omitempty"`
	ValueBool        *int16     `json:"value_bool,omitempty"`
	ValueDate        *time.Time `json:"value_date,omitempty"`
	ValueDatetime    *time.Time `json:"value_datetime,omitempty"`
	ValueRadio       *string    `json:"value_radio,omitempty"`
	ValueCheckbox    *string    `json:"value_checkbox,omitempty"`
	ValueSelect      *string    `json:"value_select,omitempty"`
	ValueMultiSelect *string    `json:"value_multi_select,omitempty"`
	ValueText        *string    `json:"value_text,omitempty"`
	ValueUsername    *string    `json:"value_username,omitempty"`
	IsDeleted        bool       `json:"is_deleted"`
	GmtCreated       time.Time  `json:"gmt_created"`
	GmtModified      time.Time  `json:"gmt_modified"`
}

// FlowEntry is one append-only audit row: who acted at which state via
// which transition. TransitionID 0 marks a non-transition record such as
// ticket creation or a forced state change.
type FlowEntry struct {
	ID                int64           `json:"id"`
	TicketID          int64           `json:"ticket_id"`
	StateID           int64           `json:"state_id"`
	TransitionID      int64           `json:"transition_id"`
	ParticipantTypeID ParticipantKind `json:"participant_type_id"`
	Participant       string          `json:"participant"`
	Suggestion        string          `json:"suggestion"`
	IsDeleted         bool            `json:"is_deleted"`
	GmtCreated        time.Time       `json:"gmt_created"`
}

// Workflow is a workflow definition header.
type Workflow struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	Description         string    `json:"description,omitempty"`
	DisplayFormFields   []string  `json:"display_form_fields"`
	ViewPermissionCheck bool      `json:"view_permission_check"`
	LimitExpression     string    `json:"limit_expression,omitempty"`
	IsDeleted           bool      `json:"is_deleted"`
	GmtCreated          time.Time `json:"gmt_created"`
	GmtModified         time.Time `json:"gmt_modified"`
}

// LimitRule is the parsed form of Workflow.LimitExpression: at most Count
// tickets per creator within Period hours. A zero rule means unlimited.
type LimitRule struct {
	Period int `json:"period"`
	Count  int `json:"count"`
}

// LimitRule parses the workflow's limit expression. An empty expression
// returns a zero rule and no error.
func (w *Workflow) LimitRule() (LimitRule, error) {
	var r LimitRule
	if w.LimitExpression == "" {
		return r, nil
	}
	if err := json.Unmarshal([]byte(w.LimitExpression), &r); err != nil {
		return r, fmt.Errorf("parse limit expression of workflow %d: %w", w.ID, err)
	}
	return r, nil
}

// State is one node of a workflow's state graph. Fields maps field keys
// to the attribute they carry while a ticket sits in this state.
type State struct {
	ID                int64                     `json:"id"`
	WorkflowID        int64                     `json:"workflow_id"`
	Name              string                    `json:"name"`
	IsHidden          bool                      `json:"is_hidden"`
	OrderID           int                       `json:"order_id"`
	ParticipantTypeID ParticipantKind           `json:"participant_type_id"`
	Participant       string                    `json:"participant"`
	Fields            map[string]FieldAttribute `json:"fields"`
	IsDeleted         bool                      `json:"is_deleted"`
	GmtCreated        time.Time                 `json:"gmt_created"`
	GmtModified       time.Time                 `json:"gmt_modified"`
}

// ParseStateFields decodes a state_field_str JSON object
// ({"field_key": attribute, ...}) into a typed map.
func ParseStateFields(raw string) (map[string]FieldAttribute, error) {
	if raw == "" {
		return map[string]FieldAttribute{}, nil
	}
	var m map[string]FieldAttribute
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("parse state fields: %w", err)
	}
	return m, nil
}

// ParseDisplayForm decodes a display_form_str JSON array of field keys.
func ParseDisplayForm(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("parse display form: %w", err)
	}
	return keys, nil
}

// Transition is one directed edge between two states.
type Transition struct {
	ID                 int64     `json:"id"`
	WorkflowID         int64     `json:"workflow_id"`
	Name               string    `json:"name"`
	SourceStateID      int64     `json:"source_state_id"`
	DestinationStateID int64     `json:"destination_state_id"`
	OrderID            int       `json:"order_id"`
	IsDeleted          bool      `json:"is_deleted"`
	GmtCreated         time.Time `json:"gmt_created"`
	GmtModified        time.Time `json:"gmt_modified"`
}

// CustomField is one entry of a workflow's field schema.
type CustomField struct {
	ID          int64     `json:"id"`
	WorkflowID  int64     `json:"workflow_id"`
	FieldKey    string    `json:"field_key"`
	FieldName   string    `json:"field_name"`
	FieldTypeID FieldType `json:"field_type_id"`
	OrderID     int       `json:"order_id"`
	FieldChoice string    `json:"field_choice,omitempty"`
	IsDeleted   bool      `json:"is_deleted"`
	GmtCreated  time.Time `json:"gmt_created"`
	GmtModified time.Time `json:"gmt_modified"`
}

// User is a directory user.
type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Alias       string    `json:"alias,omitempty"`
	Email       string    `json:"email,omitempty"`
	DeptID      int64     `json:"dept_id"`
	IsDeleted   bool      `json:"is_deleted"`
	GmtCreated  time.Time `json:"gmt_created"`
	GmtModified time.Time `json:"gmt_modified"`
}

// Dept is a directory department. Approver is a comma-separated username
// set; an empty approver is inherited from the parent chain.
type Dept struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	ParentDeptID int64     `json:"parent_dept_id"`
	Leader       string    `json:"leader,omitempty"`
	Approver     string    `json:"approver,omitempty"`
	IsDeleted    bool      `json:"is_deleted"`
	GmtCreated   time.Time `json:"gmt_created"`
	GmtModified  time.Time `json:"gmt_modified"`
}

// Role is a directory role.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	IsDeleted   bool      `json:"is_deleted"`
	GmtCreated  time.Time `json:"gmt_created"`
	GmtModified time.Time `json:"gmt_modified"`
}
