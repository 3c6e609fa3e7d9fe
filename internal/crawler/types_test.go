package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLinkKind(t *testing.T) {
	t.Parallel()

	cases := map[string]LinkKind{
		"country":   KindRegion,
		" State ":   KindSubRegion,
		"base":      KindRoot,
		"cro":       KindRecord,
		"Biotech":   KindRecord,
		"":          KindRecord,
		"countries": KindRecord,
	}
	for label, want := range cases {
		assert.Equal(t, want, ParseLinkKind(label), label)
	}
}

func TestResultCodec(t *testing.T) {
	t.Parallel()

	cases := map[string]Result{
		"links": LinkList{
			NewLink("United States", "/country/us", KindRegion),
			NewLink("Acme", "/cro/acme", KindRecord),
		},
		"empty links": LinkList{},
		"record": Extracted{Record: Record{
			Name:         "Acme",
			Website:      "https://acme.example",
			Attributes:   map[string]string{"website": "https://acme.example"},
			Descriptions: []string{"CRO"},
		}},
	}
	for name, res := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			data, err := MarshalResult(res)
			require.NoError(t, err)
			got, err := UnmarshalResult(data)
			require.NoError(t, err)
			assert.Equal(t, res, got)
		})
	}
}

func TestResultCodecWireShape(t *testing.T) {
	t.Parallel()

	data, err := MarshalResult(LinkList(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"links":[]}`, string(data))

	parent := NewLink("US", "/country/us", KindRegion)
	child := NewLink("Acme", "/cro/acme", KindRecord).WithOrigin(&parent)
	data, err = MarshalResult(LinkList{*child})
	require.NoError(t, err)
	assert.JSONEq(t, `{"links":[{"name":"Acme","href":"/cro/acme","link_type":"cro"}]}`, string(data))

	_, err = UnmarshalResult([]byte(`{}`))
	require.Error(t, err)
	_, err = UnmarshalResult([]byte(`[1,2]`))
	require.Error(t, err)
	_, err = MarshalResult(nil)
	require.Error(t, err)
}

func TestResolveHref(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://dir.example/")
	require.NoError(t, err)

	root := NewLink("Directory", "https://other.example/start", KindRoot)
	got, err := resolveHref(base, &root)
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/start", got)

	rel := NewLink("US", "/country/us", KindRegion)
	got, err = resolveHref(base, &rel)
	require.NoError(t, err)
	assert.Equal(t, "https://dir.example/country/us", got)

	abs := NewLink("Acme", "https://dir.example/cro/acme", KindRecord)
	got, err = resolveHref(base, &abs)
	require.NoError(t, err)
	assert.Equal(t, "https://dir.example/cro/acme", got)

	bad := NewLink("Bad", "%zz", KindRecord)
	_, err = resolveHref(base, &bad)
	require.Error(t, err)
}
