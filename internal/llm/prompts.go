package llm

// Prompt templates for the ingestion and query pipelines. Chunk-level
// prompts run on the local tier; only answer synthesis goes to the cloud.

const summaryPrompt = `You are an expert technical writer.
Your task is to provide a comprehensive summary of the document provided below.
Requirements:
1. Identify the main Subject, Key Entities (People, Companies), and Dates.
2. Summarize the core purpose of the document.
3. Keep it dense and factual (approx. 200 words).

Document Text:
%s`

const mergeSummariesPrompt = `Merge these two summaries of adjacent parts of the same document into one coherent summary. Keep it dense and factual.
1. %s
2. %s`

const headerPrompt = `<document_context>
%s
</document_context>
<chunk_content>
%s
</chunk_content>
Task: Write a brief "Contextual Header" (1-2 sentences) that explains what this specific chunk is about in the context of the whole document.
Your Header:`

const entityExtractionSystem = `You are a Knowledge Graph Specialist. Extract entities from the given text.

Entity types: person, organization, location, project, concept

Output format (one per line, nothing else):
ENTITY|name|type

Guidelines:
- Extract all meaningful entities
- Use the entity's canonical name as it appears in the text
- Only use the listed entity types`

const entityExtractionUser = `Text:
%s

Extracted entities:`

const relationExtractionSystem = `You are a Knowledge Graph Specialist. Extract relationships between entities from the given text.

Output format (one per line, nothing else):
RELATION|subject|predicate|object

Guidelines:
- Use specific uppercase predicates (e.g. MANAGED_BY, LOCATED_IN, PART_OF, RELATES_TO)
- Subject and object must be entity names mentioned in the text
- Only output relationships the text directly supports`

const relationExtractionUser = `Text:
%s

Extracted relations:`

const focusEntitySystem = `You are a precise entity and concept extractor. Return ONLY the entity or concept name (e.g. 'Requirements Analysis', 'Security'). Do not explain.`

const focusEntityUser = `Analyze the following query and extract the most relevant primary entity (Person, Organization, Project) OR Key Concept (Technical Term, Process) as a single string. If none, return 'None'. Query: '%s'`

const expandQuerySystem = `You are a semantic query expander. Return ONLY the broad question.`

const expandQueryUser = `The user provided a short, ambiguous search term for a retrieval system. Expand this term into a broad question that asks for 'definitions, categories, or examples' of the term within the document. Avoid assuming a specific industry or domain. Term: '%s'`

const synthesisSystem = `You are a helpful assistant.
Answer the user's query mostly based on the provided Context.

- If the Context mentions the term, summarize its usage, examples, or categories found.
- If the answer is NOT in the Context, say "I cannot find the answer in the provided documents."
- Cite the source filename if possible.`

const synthesisUser = `Original Query: %s
Refined Intent: %s

[Graph Relationships]
%s

[Relevant Knowledge]
%s

Your Answer:`
