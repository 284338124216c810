package salesforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Contact represents a Salesforce Contact record.
type Contact struct {
	ID           string          `json:"Id" salesforce:"Id"`
	FirstName    string          `json:"FirstName" salesforce:"FirstName"`
	LastName     string          `json:"LastName" salesforce:"LastName"`
	Name         string          `json:"Name" salesforce:"Name"`
	Email        string          `json:"Email" salesforce:"Email"`
	Phone        string          `json:"Phone" salesforce:"Phone"`
	MobilePhone  string          `json:"MobilePhone" salesforce:"MobilePhone"`
	Title        string          `json:"Title" salesforce:"Title"`
	AccountID    string          `json:"AccountId" salesforce:"AccountId"`
	Account      *ContactAccount `json:"Account" salesforce:"Account"`
	MailingCity  string          `json:"MailingCity" salesforce:"MailingCity"`
	MailingState string          `json:"MailingState" salesforce:"MailingState"`
}

// ContactAccount is the parent Account relationship on a Contact.
type ContactAccount struct {
	Name string `json:"Name" salesforce:"Name"`
}

// contactFields are the SOQL fields selected for Contact queries.
var contactFields = []string{
	"Id", "FirstName", "LastName", "Name", "Email", "Phone", "MobilePhone",
	"Title", "AccountId", "Account.Name", "MailingCity", "MailingState",
}

// ContactFilter narrows a Contact query.
type ContactFilter struct {
	AccountID     string
	ModifiedSince time.Time
	Limit         int
}

// ContactSOQL builds the SOQL for f.
func ContactSOQL(f ContactFilter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM Contact", strings.Join(contactFields, ", "))

	var where []string
	if f.AccountID != "" {
		where = append(where, fmt.Sprintf("AccountId = '%s'", escapeSoql(f.AccountID)))
	}
	if !f.ModifiedSince.IsZero() {
		where = append(where, "LastModifiedDate >= "+f.ModifiedSince.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY Id")
	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
	}
	return b.String()
}

// FetchContacts queries Contacts matching f.
func FetchContacts(ctx context.Context, c Client, f ContactFilter) ([]Contact, error) {
	var contacts []Contact
	if err := c.Query(ctx, ContactSOQL(f), &contacts); err != nil {
		return nil, eris.Wrap(err, "sf: fetch contacts")
	}
	return contacts, nil
}

// FindContactsByAccountID returns all Contacts under one Account.
func FindContactsByAccountID(ctx context.Context, c Client, accountID string) ([]Contact, error) {
	contacts, err := FetchContacts(ctx, c, ContactFilter{AccountID: accountID})
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find contacts for account %s", accountID))
	}
	return contacts, nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
