package hostlist

import "testing"

func TestLoadInlineHost(t *testing.T) {
	doc := []byte(`
vars:
  env: prod
hosts:
  - "web1 [region=us-east, tier=front]"
`)
	hosts, err := Load(doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(hosts) != 1 || hosts[0].Address != "web1" {
		t.Fatalf("hosts = %+v", hosts)
	}
	if hosts[0].Vars["env"] != "prod" || hosts[0].Vars["region"] != "us-east" {
		t.Fatalf("vars = %+v", hosts[0].Vars)
	}
}

func TestLoadPrecedence(t *testing.T) {
	doc := []byte(`
vars:
  tier: default
groups:
  - name: web
    vars: { tier: web-group }
    hosts: [web1]
hosts:
  - address: web1
    vars: { tier: host-override }
`)
	hosts, err := Load(doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if hosts[0].Vars["tier"] != "host-override" {
		t.Fatalf("tier = %v, want host-override (host beats group beats global)", hosts[0].Vars["tier"])
	}
}

func TestLoadGroupOnlyHost(t *testing.T) {
	doc := []byte(`
groups:
  - name: db
    vars: { role: database }
    hosts: [db1]
`)
	hosts, err := Load(doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(hosts) != 1 || hosts[0].Address != "db1" || hosts[0].Vars["role"] != "database" {
		t.Fatalf("hosts = %+v", hosts)
	}
}

func TestLoadHostInMultipleGroups(t *testing.T) {
	doc := []byte(`
groups:
  - name: a
    vars: { x: 1 }
    hosts: [h1]
  - name: b
    vars: { y: 2 }
    hosts: [h1]
hosts:
  - h1
`)
	hosts, err := Load(doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if hosts[0].Vars["x"] != 1 || hosts[0].Vars["y"] != 2 {
		t.Fatalf("vars = %+v, want both groups' vars accumulated", hosts[0].Vars)
	}
}
