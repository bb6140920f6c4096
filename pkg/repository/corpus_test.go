package repository_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/repository"
)

func TestLoadCorpus(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "corpus.yaml")
		gt.NoError(t, os.WriteFile(path, []byte(`
- id: permit-1
  domain: immigration
  title: Study permits
  text: Apply for a study permit online before you travel.
  embedding: [0.1, 0.2]
- id: bank-1
  domain: life
  text: Bring two pieces of ID to open a bank account.
`), 0644))

		passages, err := repository.LoadCorpus(path)
		gt.NoError(t, err)
		gt.A(t, passages).Length(2)
		gt.Equal(t, passages[0].ID, model.PassageID("permit-1"))
		gt.Equal(t, passages[0].Domain, model.DomainImmigration)
		gt.Equal(t, passages[0].Title, "Study permits")
		gt.A(t, passages[0].Embedding).Length(2)
		gt.A(t, passages[1].Embedding).Length(0)
	})

	t.Run("json round trip", func(t *testing.T) {
		path := filepath.Join(dir, "corpus.json")
		in := []*model.Passage{passage("a", model.DomainEducation, 0.5, 0.5)}
		gt.NoError(t, repository.SaveCorpus(path, in))

		out, err := repository.LoadCorpus(path)
		gt.NoError(t, err)
		gt.A(t, out).Length(1)
		gt.Equal(t, out[0].ID, in[0].ID)
		gt.Equal(t, out[0].Domain, model.DomainEducation)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(dir, "corpus.txt")
		gt.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

		_, err := repository.LoadCorpus(path)
		gt.True(t, errors.Is(err, model.ErrInvalidInput))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := repository.LoadCorpus(filepath.Join(dir, "nothing.json"))
		gt.Error(t, err)
	})
}
