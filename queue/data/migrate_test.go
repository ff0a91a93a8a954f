package data

import (
	"io/ioutil"
	"strings"
	"testing"

	"inviqa/layer-hook-relay/config"
)

func TestCreateMigrateSourceDriver(t *testing.T) {
	for _, driver := range []config.DbDriver{config.MySQL, config.Postgres} {
		t.Run(driver.String(), func(t *testing.T) {
			d, err := createMigrateSourceDriver(driver)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			defer d.Close()

			version, err := d.First()
			if err != nil {
				t.Fatalf("unable to read the first migration: %s", err)
			}

			r, _, err := d.ReadUp(version)
			if err != nil {
				t.Fatalf("unable to read migration %d: %s", version, err)
			}
			defer r.Close()

			body, _ := ioutil.ReadAll(r)
			if !strings.Contains(string(body), "layer_hook_queue") {
				t.Errorf("expected the first migration to create the queue table, got:\n%s", body)
			}
		})
	}
}

func TestCreateMigrateSourceDriverWithUnknownDriver(t *testing.T) {
	if _, err := createMigrateSourceDriver(config.DbDriver("oracle")); err == nil {
		t.Error("expected an error but got nil")
	}
}
