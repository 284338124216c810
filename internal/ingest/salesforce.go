package ingest

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-resolver/internal/model"
	"github.com/sells-group/contact-resolver/pkg/salesforce"
)

// SalesforceSource labels records loaded from Salesforce.
const SalesforceSource = "salesforce"

// LoadSalesforce fetches Contacts matching f and converts them to records.
func LoadSalesforce(ctx context.Context, c salesforce.Client, f salesforce.ContactFilter) ([]model.Record, error) {
	contacts, err := salesforce.FetchContacts(ctx, c, f)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: salesforce")
	}
	records := ContactsToRecords(contacts)
	zap.L().Info("ingest: loaded salesforce contacts", zap.Int("records", len(records)))
	return records, nil
}

// ContactsToRecords maps Salesforce Contacts onto the contact record fields.
// Empty values are omitted.
func ContactsToRecords(contacts []salesforce.Contact) []model.Record {
	out := make([]model.Record, 0, len(contacts))
	for _, c := range contacts {
		r := model.Record{
			model.FieldID:     c.ID,
			model.FieldSource: SalesforceSource,
		}
		set := func(field, v string) {
			if v = strings.TrimSpace(v); v != "" {
				r[field] = v
			}
		}

		fullName := c.Name
		if strings.TrimSpace(fullName) == "" {
			fullName = strings.TrimSpace(c.FirstName + " " + c.LastName)
		}
		set(model.FieldFullName, fullName)
		set(model.FieldFirstName, c.FirstName)
		set(model.FieldLastName, c.LastName)
		set(model.FieldEmail, c.Email)
		set(model.FieldTitle, c.Title)
		if c.Account != nil {
			set(model.FieldCompany, c.Account.Name)
		}

		if c.Phone != "" {
			set(model.FieldPhone, c.Phone)
			set("mobile_phone", c.MobilePhone)
		} else {
			set(model.FieldPhone, c.MobilePhone)
		}

		var loc []string
		for _, part := range []string{c.MailingCity, c.MailingState} {
			if p := strings.TrimSpace(part); p != "" {
				loc = append(loc, p)
			}
		}
		set(model.FieldLocation, strings.Join(loc, ", "))

		out = append(out, r)
	}
	return out
}
