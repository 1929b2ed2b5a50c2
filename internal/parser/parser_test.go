package parser

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentkit/contentgraph/internal/contenttype"
)

var defaultPack = PackInfo{ID: "TestPack", Marketplaces: contenttype.DefaultPackMarketplaces()}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func parse(t *testing.T, ct contenttype.ContentType, name, content string) *Record {
	t.Helper()
	path := writeFile(t, t.TempDir(), name, content)
	rec, err := Parse(path, ct, defaultPack)
	require.NoError(t, err)
	return rec
}

func TestScriptDependsOnStripsIntegrationPrefix(t *testing.T) {
	rec := parse(t, contenttype.Script, "script.yml", `
commonfields:
  id: MyScript
name: MyScript
script: "return 1"
type: python
dependson:
  must:
  - integration|do-thing
  - plain-cmd
`)
	assert.Equal(t, "Script:MyScript", rec.NodeID)
	assert.Equal(t, "python2", rec.Properties["type"])
	assert.ElementsMatch(t, []Dependency{
		{Target: "do-thing", TargetType: contenttype.CommandOrScript, Mandatory: true},
		{Target: "plain-cmd", TargetType: contenttype.CommandOrScript, Mandatory: true},
	}, rec.Dependencies)
	for _, d := range rec.Dependencies {
		assert.True(t, d.Ambiguous())
	}
}

func TestScriptExecuteCommandFromSiblingCode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "MyScript")
	path := writeFile(t, dir, "MyScript.yml", `
commonfields:
  id: MyScript
name: MyScript
script: '-'
type: python
subtype: python3
`)
	writeFile(t, dir, "MyScript.py", `
res = demisto.executeCommand("cmd1", {})
other = execute_command('Other-Script', args)
`)
	writeFile(t, dir, "MyScript_test.py", `execute_command("from-tests")`)

	rec, err := Parse(path, contenttype.Script, defaultPack)
	require.NoError(t, err)
	assert.Equal(t, "python3", rec.Properties["type"])
	assert.ElementsMatch(t, []Dependency{
		{Target: "cmd1", TargetType: contenttype.CommandOrScript, Mandatory: true},
		{Target: "Other-Script", TargetType: contenttype.CommandOrScript, Mandatory: true},
	}, rec.Dependencies)
}

func TestScriptExecuteCommandNamesWithDigits(t *testing.T) {
	rec := parse(t, contenttype.Script, "script.yml", `
commonfields:
  id: Caller
name: Caller
type: python
script: |
  execute_command("cmd1", {})
  demisto.executeCommand('ad-get-user2', args)
`)
	assert.ElementsMatch(t, []Dependency{
		{Target: "cmd1", TargetType: contenttype.CommandOrScript, Mandatory: true},
		{Target: "ad-get-user2", TargetType: contenttype.CommandOrScript, Mandatory: true},
	}, rec.Dependencies)
}

func TestLayoutFieldIDs(t *testing.T) {
	rec := parse(t, contenttype.Layout, "layout.json", `{
		"id": "MyLayout",
		"group": "incident",
		"detailsV2": {"tabs": [{"sections": [{"items": [{"fieldId": "occurred"}]}]}]}
	}`)
	assert.Equal(t, []Dependency{
		{Target: "occurred", TargetType: contenttype.IncidentField, Mandatory: false},
	}, rec.Dependencies)
	assert.Equal(t, "incident", rec.Properties["group"])
	assert.Equal(t, true, rec.Properties["details_v2"])
	assert.Equal(t, false, rec.Properties["mobile"])

	rec = parse(t, contenttype.Layout, "layout.json", `{
		"id": "IndicatorLayout",
		"group": "indicator",
		"indicatorsDetails": {"tabs": [{"fieldId": "tags"}]}
	}`)
	assert.Equal(t, contenttype.IndicatorField, rec.Dependencies[0].TargetType)
}

const branchingPlaybook = `
id: MyPlaybook
name: MyPlaybook
starttaskid: "0"
tasks:
  "0":
    id: "0"
    type: start
    nexttasks:
      '#none#': ["1"]
  "1":
    id: "1"
    type: condition
    task:
      scriptName: CheckSomething
    nexttasks:
      "yes": ["2"]
      "no": ["3"]
  "2":
    id: "2"
    type: regular
    task:
      script: VirusTotal|||file
  "3":
    id: "3"
    type: regular
    task:
      playbookName: Fallback
    scriptarguments:
      value:
        complex:
          root: incident
          transformers:
          - operator: uniq
  "4":
    id: "4"
    type: regular
    task:
      scriptName: Orphan
`

func TestPlaybookBranchMandatoriness(t *testing.T) {
	rec := parse(t, contenttype.Playbook, "playbook.yml", branchingPlaybook)
	got := map[string]Dependency{}
	for _, d := range rec.Dependencies {
		got[d.TargetNodeID()] = d
	}
	assert.True(t, got["Script:CheckSomething"].Mandatory)
	assert.True(t, got["Integration:VirusTotal"].Mandatory)
	assert.False(t, got["Playbook:Fallback"].Mandatory)
	assert.False(t, got["Script:uniq"].Mandatory)
	assert.False(t, got["Script:Orphan"].Mandatory)
	assert.Len(t, rec.Dependencies, 5)
}

func TestPlaybookCommands(t *testing.T) {
	rec := parse(t, contenttype.Playbook, "playbook.yml", `
id: Commands
starttaskid: "0"
tasks:
  "0":
    task:
      script: '|||bare-command'
    nexttasks:
      '#none#': ["1"]
  "1":
    task:
      script: Builtin|||setIncident
    scriptarguments:
      severity:
        simple: "3"
      myfield:
        simple: x
      customFields:
        simple: '[{"customone": 1}, {"severity": 2}]'
    nexttasks:
      '#none#': ["2"]
  "2":
    task:
      script: Builtin|||getList
    scriptarguments:
      listName:
        simple: Allowed
    nexttasks:
      '#none#': ["3"]
  "3":
    task:
      script: Builtin|||closeInvestigation
    nexttasks:
      '#none#': ["4"]
  "4":
    task:
      script: Builtin|||SomeBuiltinScript
    nexttasks:
      '#none#': ["5"]
  "5":
    task:
      script: no-pipe-cmd
    fieldMapping:
    - incidentfield: occurred
    - incidentfield: mappedfield
`)
	var ids []string
	for _, d := range rec.Dependencies {
		assert.True(t, d.Mandatory, d.TargetNodeID())
		ids = append(ids, d.TargetNodeID())
	}
	assert.ElementsMatch(t, []string{
		"Command:bare-command",
		"IncidentField:customone",
		"IncidentField:myfield",
		"List:Allowed",
		"Script:SomeBuiltinScript",
		"Command:no-pipe-cmd",
		"IncidentField:mappedfield",
	}, ids)
}

func TestIntegrationCommandsAndTests(t *testing.T) {
	rec := parse(t, contenttype.Integration, "integration.yml", `
commonfields:
  id: MyIntegration
name: MyIntegration
display: My Integration
category: Utilities
fromversion: 6.5
defaultclassifier: MyClassifier
script:
  type: python
  subtype: python3
  commands:
  - name: cmd1
    description: does one
  - name: old-cmd
    deprecated: true
tests:
- TestOne
- No tests
`)
	assert.Equal(t, "6.5.0", rec.FromVersion)
	assert.Equal(t, DefaultToVersion, rec.ToVersion)
	assert.Equal(t, []Command{
		{Name: "cmd1", Description: "does one"},
		{Name: "old-cmd", Deprecated: true},
	}, rec.Commands)
	assert.Equal(t, []string{"TestOne"}, rec.Tests)
	assert.Equal(t, []Dependency{
		{Target: "MyClassifier", TargetType: contenttype.Classifier, Mandatory: false},
	}, rec.Dependencies)
	assert.Equal(t, 2, rec.Properties["command_count"])
}

func TestClassifierAndMapperShareAFolder(t *testing.T) {
	rec := parse(t, contenttype.Classifier, "classifier.json", `{
		"id": "MyClassifier",
		"type": "classification",
		"keyTypeMap": {"a": "Phishing"}
	}`)
	assert.Equal(t, contenttype.Classifier, rec.ContentType)
	assert.Equal(t, "IncidentType:Phishing", rec.Dependencies[0].TargetNodeID())

	rec = parse(t, contenttype.Classifier, "mapper.json", `{
		"id": "MyMapper",
		"type": "mapping-incoming",
		"mapping": {"Phishing": {"internalMapping": {"Email From": {"simple": "from"}}}}
	}`)
	assert.Equal(t, contenttype.Mapper, rec.ContentType)
	assert.Equal(t, "Mapper:MyMapper", rec.NodeID)
	var ids []string
	for _, d := range rec.Dependencies {
		ids = append(ids, d.TargetNodeID())
	}
	assert.ElementsMatch(t, []string{"IncidentType:Phishing", "IncidentField:Email From"}, ids)
}

func TestTestPlaybooksFolder(t *testing.T) {
	rec := parse(t, contenttype.TestPlaybook, "script-Test.yml", `
commonfields:
  id: TestScript
name: TestScript
script: 'execute_command("x")'
`)
	assert.Equal(t, contenttype.Script, rec.ContentType)
	assert.Equal(t, true, rec.Properties["is_test"])

	rec = parse(t, contenttype.TestPlaybook, "playbook-Test.yml", `
id: TestFlow
name: TestFlow
starttaskid: "0"
tasks:
  "0":
    task:
      playbookName: Real
`)
	assert.Equal(t, contenttype.TestPlaybook, rec.ContentType)
	assert.Equal(t, "TestPlaybook:TestFlow", rec.NodeID)
	assert.True(t, rec.Dependencies[0].Mandatory)
}

func TestTriggerUsesTriggerID(t *testing.T) {
	rec := parse(t, contenttype.Trigger, "trigger.json", `{
		"trigger_id": "abc123",
		"trigger_name": "On alert",
		"playbook_id": "Responder"
	}`)
	assert.Equal(t, "abc123", rec.ObjectID)
	assert.Equal(t, "On alert", rec.Name)
	assert.Equal(t, []Dependency{{Target: "Responder", TargetType: contenttype.Playbook, Mandatory: true}}, rec.Dependencies)
}

func TestXSIAMDashboardUnwrapsData(t *testing.T) {
	rec := parse(t, contenttype.XSIAMDashboard, "dash.json", `{
		"dashboards_data": [{"global_id": "external-dash1", "name": "Dash"}]
	}`)
	assert.Equal(t, "XSIAMDashboard:dash1", rec.NodeID)
	assert.Equal(t, "Dash", rec.Name)
}

func TestItemMarketplacesNarrowedToPack(t *testing.T) {
	path := writeFile(t, t.TempDir(), "list.json", `{"id": "L", "marketplaces": ["xsoar", "xpanse"]}`)
	rec, err := Parse(path, contenttype.List, PackInfo{ID: "P", Marketplaces: []contenttype.Marketplace{contenttype.XSOAR}})
	require.NoError(t, err)
	assert.Equal(t, []contenttype.Marketplace{contenttype.XSOAR}, rec.Marketplaces)

	rec = parse(t, contenttype.List, "list.json", `{"id": "L"}`)
	assert.Equal(t, contenttype.DefaultPackMarketplaces(), rec.Marketplaces)
}

func TestParseErrors(t *testing.T) {
	dir := t.TempDir()

	path := writeFile(t, dir, "noid.json", `{"name": "nameless"}`)
	_, err := Parse(path, contenttype.List, defaultPack)
	var missing *MissingIdentityFieldError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "id", missing.Field)

	path = writeFile(t, dir, "bad.yml", "id: [unclosed")
	_, err = Parse(path, contenttype.Playbook, defaultPack)
	var perr *ParsingError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, path, perr.Path)

	path = writeFile(t, dir, "badversion.json", `{"id": "x", "fromVersion": "not-a-version"}`)
	_, err = Parse(path, contenttype.List, defaultPack)
	assert.True(t, errors.As(err, &perr))

	_, err = Parse(path, contenttype.Pack, defaultPack)
	var unknown *contenttype.UnknownContentTypeError
	assert.True(t, errors.As(err, &unknown))

	_, err = Parse(filepath.Join(dir, "missing.json"), contenttype.List, defaultPack)
	assert.True(t, errors.As(err, &perr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParsePack(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "MyPack")
	writeFile(t, dir, MetadataFile, `{
		"name": "My Pack",
		"support": "xsoar",
		"currentVersion": "1.2.3",
		"categories": ["Utilities"],
		"marketplaces": ["marketplacev2"]
	}`)
	pack, err := ParsePack(dir)
	require.NoError(t, err)
	assert.Equal(t, "MyPack", pack.ObjectID)
	assert.Equal(t, "Pack:MyPack", pack.NodeID)
	assert.Equal(t, "My Pack", pack.Name)
	assert.Equal(t, "certified", pack.Certification)
	assert.Equal(t, "1.2.3", pack.CurrentVersion)
	assert.Equal(t, []contenttype.Marketplace{contenttype.MarketplaceV2}, pack.Marketplaces)
	assert.Equal(t, PackInfo{ID: "MyPack", Marketplaces: pack.Marketplaces}, pack.Info())

	dir = filepath.Join(t.TempDir(), "Defaults")
	writeFile(t, dir, MetadataFile, `{}`)
	pack, err = ParsePack(dir)
	require.NoError(t, err)
	assert.Equal(t, contenttype.DefaultPackMarketplaces(), pack.Marketplaces)
	assert.Equal(t, "Defaults", pack.Name)
}
