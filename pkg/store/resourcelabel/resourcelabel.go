// Package resourcelabel persists the free-form labels of tracked resources.
package resourcelabel

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/gocraft/dbr"
	"github.com/gocraft/dbr/dialect"
	"github.com/jmoiron/sqlx"
)

type resourceLabelStore struct {
	logger lumber.Logger
}

type label struct {
	ResourceID string `db:"resource_id"`
	Key        string `db:"label_key"`
	Value      string `db:"label_value"`
}

// New returns a new ResourceLabelStore.
func New(logger lumber.Logger) core.ResourceLabelStore {
	return &resourceLabelStore{logger: logger}
}

func (s *resourceLabelStore) CreateInTx(ctx context.Context,
	tx *sqlx.Tx,
	resourceID string,
	labels map[string]string) error {
	if len(labels) == 0 {
		return nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]interface{}, 0, 3*len(keys))
	placeholderGrps := make([]string, 0, len(keys))
	for _, k := range keys {
		placeholderGrps = append(placeholderGrps, "(?,?,?)")
		args = append(args, resourceID, k, labels[k])
	}
	interpolatedQuery, err := dbr.InterpolateForDialect(fmt.Sprintf(insertQuery, strings.Join(placeholderGrps, ",")), args, dialect.MySQL)
	if err != nil {
		return errs.SQLError(err)
	}
	if _, err := tx.ExecContext(ctx, interpolatedQuery); err != nil {
		return errs.SQLError(err)
	}
	return nil
}

func (s *resourceLabelStore) FindInTx(ctx context.Context,
	tx *sqlx.Tx,
	resourceIDs ...string) (map[string]map[string]string, error) {
	result := make(map[string]map[string]string, len(resourceIDs))
	if len(resourceIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(selectQuery, resourceIDs)
	if err != nil {
		return nil, errs.SQLError(err)
	}
	labels := make([]*label, 0)
	if err := tx.SelectContext(ctx, &labels, tx.Rebind(query), args...); err != nil {
		return nil, errs.SQLError(err)
	}
	for _, l := range labels {
		if _, ok := result[l.ResourceID]; !ok {
			result[l.ResourceID] = make(map[string]string)
		}
		result[l.ResourceID][l.Key] = l.Value
	}
	return result, nil
}

const insertQuery = `INSERT INTO resource_label(resource_id, label_key, label_value) VALUES %s`

const selectQuery = `SELECT resource_id, label_key, label_value FROM resource_label WHERE resource_id IN (?)`
